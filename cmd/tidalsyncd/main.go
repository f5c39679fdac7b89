// Command tidalsyncd runs the reconciliation appliance: it scans a remote
// host over SFTP and a local directory, drives `lftp` to pull files across,
// and extracts archives, publishing model changes to the optional AMQP
// event bus. A command-issuing web/API front-end lives outside this binary.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/posener/complete"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/willabides/kongplete"
	_ "go.uber.org/automaxprocs"

	"github.com/tidalsync/tidalsync/internal/slogutil"
	"github.com/tidalsync/tidalsync/lib/controller"
	"github.com/tidalsync/tidalsync/lib/deleteworker"
	"github.com/tidalsync/tidalsync/lib/diskguard"
	"github.com/tidalsync/tidalsync/lib/eventbus"
	"github.com/tidalsync/tidalsync/lib/extract"
	"github.com/tidalsync/tidalsync/lib/model"
	"github.com/tidalsync/tidalsync/lib/persist"
	"github.com/tidalsync/tidalsync/lib/scanner"
	"github.com/tidalsync/tidalsync/lib/transfer"
)

type cli struct {
	LocalRoot  string `required:"" help:"Local directory mirrored from the remote host." type:"existingdir"`
	RemoteRoot string `default:"/" help:"Remote directory to scan."`

	RemoteHost     string `required:"" help:"Remote SSH/SFTP host."`
	RemotePort     int    `default:"22" help:"Remote SSH/SFTP port."`
	RemoteUser     string `required:"" help:"Remote SSH username."`
	RemotePassword string `env:"TIDALSYNC_REMOTE_PASSWORD" help:"Remote SSH password."`

	LftpBinary string `default:"lftp" help:"Path to the lftp binary."`

	DBPath      string `default:"./tidalsync.db" help:"Path to the persistence database."`
	ExtractDir  string `default:"./extracted" help:"Directory extracted archives are written to."`
	ExtractJobs int    `default:"2" help:"Number of concurrent extraction workers."`

	LocalScanInterval  time.Duration `default:"10s" help:"Local scan interval."`
	RemoteScanInterval time.Duration `default:"30s" help:"Remote scan interval."`
	ActiveScanInterval time.Duration `default:"2s" help:"Active (in-flight) scan interval."`
	TickInterval       time.Duration `default:"1s" help:"Reconciliation loop tick interval."`

	EventBusURL      string `help:"AMQP URL to publish model events to. Disabled if empty."`
	EventBusExchange string `default:"tidalsync.events" help:"AMQP fanout exchange name."`

	ListenAddress string `default:":8384" help:"Metrics listen address."`

	InstallCompletions kongplete.InstallCompletions `cmd:"" help:"Install shell completions."`
}

func main() {
	var params cli
	parser := kong.Must(&params, kong.Name("tidalsyncd"), kong.Description("Remote-to-local sync reconciliation appliance."))
	kongplete.Complete(parser, kongplete.WithPredictor("existingdir", complete.PredictDirs("*")))
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if ctx.Command() == "install-completions" {
		ctx.FatalIfErrorf(ctx.Run())
		return
	}

	if err := run(&params); err != nil {
		fmt.Fprintln(os.Stderr, "tidalsyncd:", err)
		os.Exit(1)
	}
}

func run(p *cli) error {
	log := slogutil.For("main")

	store, err := persist.Open(p.DBPath)
	if err != nil {
		return fmt.Errorf("open persist store: %w", err)
	}
	defer store.Close()

	localScanner := scanner.NewLocalScanner(p.LocalRoot, p.LocalScanInterval, true)
	remoteScanner := scanner.NewRemoteScanner(p.RemoteHost, p.RemotePort, p.RemoteUser, p.RemotePassword, p.RemoteRoot, p.RemoteScanInterval)
	activeScanner := scanner.NewActiveScanner(p.LocalRoot, p.ActiveScanInterval)
	extractor := extract.New(p.ExtractDir, p.LocalRoot, p.ExtractJobs)

	engine := &transfer.LftpEngine{
		Binary:     p.LftpBinary,
		Host:       p.RemoteHost,
		Port:       p.RemotePort,
		User:       p.RemoteUser,
		Password:   p.RemotePassword,
		RemoteBase: p.RemoteRoot,
		LocalBase:  p.LocalRoot,
	}

	var listeners []model.Listener
	if p.EventBusURL != "" {
		pub, err := eventbus.Dial(p.EventBusURL, p.EventBusExchange)
		if err != nil {
			return fmt.Errorf("dial event bus: %w", err)
		}
		defer pub.Close()
		listeners = append(listeners, pub)
	}

	ctrl := controller.New(controller.Config{
		LocalScanner:   localScanner,
		RemoteScanner:  remoteScanner,
		ActiveScanner:  activeScanner,
		Extractor:      extractor,
		TransferEngine: engine,
		Persist:        store,
		LocalRoot:      p.LocalRoot,
		Workers: map[string]controller.ServeFunc{
			"local-scanner":  localScanner.Serve,
			"remote-scanner": remoteScanner.Serve,
			"active-scanner": activeScanner.Serve,
			"extractor":      extractor.Serve,
		},
		NewLocalDeleteWorker: func(name string) controller.DeleteWorker {
			return deleteworker.NewLocalWorker(p.LocalRoot, name)
		},
		NewRemoteDeleteWorker: func(name string) controller.DeleteWorker {
			return deleteworker.NewRemoteWorker(p.RemoteHost, p.RemotePort, p.RemoteUser, p.RemotePassword, p.RemoteRoot, name)
		},
		FreeSpace: diskguard.FreeBytes,
	})

	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	for _, l := range listeners {
		ctrl.AddModelListener(l)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: p.ListenAddress, Handler: mux}
	go func() {
		log.Info("listening", "address", p.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", slogutil.Error(err))
		}
	}()

	ticker := time.NewTicker(p.TickInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := ctrl.Process(); err != nil {
			log.Error("fatal controller error, shutting down", slogutil.Error(err))
			_ = ctrl.Exit()
			_ = srv.Close()
			return err
		}
	}
	return nil
}
