package model

import "fmt"

// ErrNotFound is returned by UpdateFile/RemoveFile/GetFile when the name is
// not present in the model.
var ErrNotFound = fmt.Errorf("model: file not found")

// ErrAlreadyExists is returned by AddFile when the name is already present.
var ErrAlreadyExists = fmt.Errorf("model: file already exists")

// Listener receives synchronous, in-order notifications of model changes.
// Implementations must not block — do any heavy lifting on a handoff
// goroutine of their own.
type Listener interface {
	FileAdded(f *ModelFile)
	FileRemoved(f *ModelFile)
	FileUpdated(old, new *ModelFile)
}

// Model is the authoritative name -> ModelFile map plus its listeners. It
// carries no locking of its own: every operation is documented to run only
// while the caller holds the controller's model lock (see lib/controller),
// which is what makes listener delivery linear and loss-free.
type Model struct {
	files     map[string]*ModelFile
	listeners []Listener
}

// New returns an empty Model.
func New() *Model {
	return &Model{files: make(map[string]*ModelFile)}
}

// AddFile inserts a new file and notifies listeners. Fails if name exists.
func (m *Model) AddFile(f *ModelFile) error {
	if _, ok := m.files[f.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, f.Name)
	}
	m.files[f.Name] = f
	for _, l := range m.listeners {
		l.FileAdded(f)
	}
	return nil
}

// UpdateFile replaces an existing file and notifies listeners. Fails if
// name does not exist.
func (m *Model) UpdateFile(f *ModelFile) error {
	old, ok := m.files[f.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, f.Name)
	}
	m.files[f.Name] = f
	for _, l := range m.listeners {
		l.FileUpdated(old, f)
	}
	return nil
}

// RemoveFile deletes a file and notifies listeners. Fails if name does not
// exist.
func (m *Model) RemoveFile(name string) error {
	old, ok := m.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.files, name)
	for _, l := range m.listeners {
		l.FileRemoved(old)
	}
	return nil
}

// GetFile returns the file with name, or ErrNotFound.
func (m *Model) GetFile(name string) (*ModelFile, error) {
	f, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, nil
}

// GetFileNames returns every known name, order unspecified.
func (m *Model) GetFileNames() []string {
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	return names
}

// AddListener registers l for future FileAdded/FileRemoved/FileUpdated
// notifications. It does not replay history.
func (m *Model) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// RemoveListener unregisters l. A no-op if l was never added.
func (m *Model) RemoveListener(l Listener) {
	for i, existing := range m.listeners {
		if existing == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}
