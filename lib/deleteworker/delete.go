// Package deleteworker implements the one-shot local and remote delete
// collaborators from spec.md §6. Both are idempotent: a target that's
// already gone is a successful delete.
package deleteworker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/tidalsync/tidalsync/internal/slogutil"
)

// Worker is what the command dispatcher needs from a one-shot delete
// process: start it, poll whether it's still running, and collect its
// terminal error once it isn't.
type Worker interface {
	Start()
	IsAlive() bool
	PropagateException() error
}

// LocalWorker deletes a path under a local root.
type LocalWorker struct {
	Root string
	Name string

	alive atomic.Bool
	errCh chan error
}

// NewLocalWorker returns a worker that will remove Root/Name once started.
func NewLocalWorker(root, name string) *LocalWorker {
	return &LocalWorker{Root: root, Name: name, errCh: make(chan error, 1)}
}

// Start launches the deletion in a goroutine.
func (w *LocalWorker) Start() {
	w.alive.Store(true)
	go func() {
		defer w.alive.Store(false)
		path := filepath.Join(w.Root, w.Name)
		if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			w.errCh <- fmt.Errorf("delete local %q: %w", w.Name, err)
		}
	}()
}

// IsAlive reports whether the deletion goroutine is still running.
func (w *LocalWorker) IsAlive() bool { return w.alive.Load() }

// PropagateException returns the worker's terminal error, if any.
func (w *LocalWorker) PropagateException() error {
	select {
	case err := <-w.errCh:
		return err
	default:
		return nil
	}
}

// RemoteWorker deletes a path on a remote host over SFTP.
type RemoteWorker struct {
	Address  string
	Port     int
	User     string
	Password string
	Root     string
	Name     string

	alive atomic.Bool
	errCh chan error
}

// NewRemoteWorker returns a worker that will remove Root/Name on the
// configured remote host once started.
func NewRemoteWorker(address string, port int, user, password, root, name string) *RemoteWorker {
	return &RemoteWorker{
		Address: address, Port: port, User: user, Password: password,
		Root: root, Name: name, errCh: make(chan error, 1),
	}
}

// Start launches the deletion in a goroutine.
func (w *RemoteWorker) Start() {
	w.alive.Store(true)
	go func() {
		defer w.alive.Store(false)
		if err := w.remove(); err != nil {
			w.errCh <- fmt.Errorf("delete remote %q: %w", w.Name, err)
		}
	}()
}

func (w *RemoteWorker) remove() error {
	log := slogutil.For("delete-remote")
	config := &ssh.ClientConfig{
		User:            w.User,
		Auth:            []ssh.AuthMethod{ssh.Password(w.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	conn, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", w.Address, w.Port), config)
	if err != nil {
		return err
	}
	defer conn.Close()
	client, err := sftp.NewClient(conn)
	if err != nil {
		return err
	}
	defer client.Close()

	path := filepath.Join(w.Root, w.Name)
	info, err := client.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		if err := client.RemoveAll(path); err != nil {
			return err
		}
	} else if err := client.Remove(path); err != nil {
		return err
	}
	log.Warn("removed remote path", "path", path)
	return nil
}

// IsAlive reports whether the deletion goroutine is still running.
func (w *RemoteWorker) IsAlive() bool { return w.alive.Load() }

// PropagateException returns the worker's terminal error, if any.
func (w *RemoteWorker) PropagateException() error {
	select {
	case err := <-w.errCh:
		return err
	default:
		return nil
	}
}
