package scanner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/tidalsync/tidalsync/internal/slogutil"
	"github.com/tidalsync/tidalsync/lib/model"
)

// RemoteScanner walks a directory on a remote host over SSH/SFTP on an
// interval. A new connection is made for every scan, which keeps the
// scanner resilient to a remote host bouncing between ticks.
type RemoteScanner struct {
	Address  string
	Port     int
	User     string
	Password string
	Root     string
	Interval time.Duration

	resultCh chan *Result
	forceCh  chan struct{}
	log      interface {
		Warn(msg string, args ...any)
	}
}

// NewRemoteScanner returns a scanner that walks root on address:port over
// SFTP, polling every interval.
func NewRemoteScanner(address string, port int, user, password, root string, interval time.Duration) *RemoteScanner {
	return &RemoteScanner{
		Address:  address,
		Port:     port,
		User:     user,
		Password: password,
		Root:     root,
		Interval: interval,
		resultCh: make(chan *Result, 1),
		forceCh:  make(chan struct{}, 1),
		log:      slogutil.For("remote-scanner"),
	}
}

// Serve implements the supervisor.Supervisor worker contract.
func (s *RemoteScanner) Serve(ctx context.Context) error {
	s.scanOnce()
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.scanOnce()
		case <-s.forceCh:
			s.scanOnce()
		}
	}
}

func (s *RemoteScanner) scanOnce() {
	files, err := s.walkRemote()
	if err != nil {
		s.log.Warn("remote scan failed", slogutil.Error(err))
		return
	}
	pushLatest(s.resultCh, &Result{Timestamp: time.Now(), Files: files})
}

func (s *RemoteScanner) walkRemote() ([]model.FileRecord, error) {
	client, err := s.dial()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	entries, err := client.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []model.FileRecord
	for _, entry := range entries {
		full := joinRemote(s.Root, entry.Name())
		rec := model.FileRecord{Name: entry.Name(), FullPath: full, IsDir: entry.IsDir()}
		if entry.IsDir() {
			children, err := walkRemoteDir(client, full)
			if err != nil {
				continue
			}
			rec.Children = children
		} else {
			size := entry.Size()
			rec.Size = &size
		}
		records = append(records, rec)
	}
	return records, nil
}

func walkRemoteDir(client *sftp.Client, dir string) ([]model.FileRecord, error) {
	entries, err := client.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var records []model.FileRecord
	for _, entry := range entries {
		full := joinRemote(dir, entry.Name())
		rec := model.FileRecord{Name: entry.Name(), FullPath: full, IsDir: entry.IsDir()}
		if entry.IsDir() {
			children, err := walkRemoteDir(client, full)
			if err != nil {
				continue
			}
			rec.Children = children
		} else {
			size := entry.Size()
			rec.Size = &size
		}
		records = append(records, rec)
	}
	return records, nil
}

func joinRemote(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func (s *RemoteScanner) dial() (*sftp.Client, error) {
	config := &ssh.ClientConfig{
		User:            s.User,
		Auth:            []ssh.AuthMethod{ssh.Password(s.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	addr := fmt.Sprintf("%s:%d", s.Address, s.Port)
	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// PopLatestResult returns the most recent scan, if any is unconsumed.
func (s *RemoteScanner) PopLatestResult() (*Result, bool) { return popLatest(s.resultCh) }

// ForceScan requests an out-of-cycle scan as soon as possible.
func (s *RemoteScanner) ForceScan() { forceScan(s.forceCh) }
