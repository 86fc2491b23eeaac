package sftpmirror

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// DirectoryMap maps each discovered remote directory to its immediate
// subdirectories. Keys keep discovery order: a parent always precedes its
// children. All paths end in "/".
type DirectoryMap struct {
	order    []string
	children map[string][]string
}

// NewDirectoryMap returns an empty map.
func NewDirectoryMap() *DirectoryMap {
	return &DirectoryMap{children: make(map[string][]string)}
}

func (m *DirectoryMap) set(dir string, children []string) {
	if _, ok := m.children[dir]; !ok {
		m.order = append(m.order, dir)
	}
	m.children[dir] = children
}

// Keys returns the directories in discovery order.
func (m *DirectoryMap) Keys() []string {
	keys := make([]string, len(m.order))
	copy(keys, m.order)
	return keys
}

// Children returns the immediate subdirectories of dir in listing order.
func (m *DirectoryMap) Children(dir string) []string {
	children := m.children[dir]
	out := make([]string, len(children))
	copy(out, children)
	return out
}

// Has reports whether dir was discovered.
func (m *DirectoryMap) Has(dir string) bool {
	_, ok := m.children[dir]
	return ok
}

// Len returns the number of discovered directories.
func (m *DirectoryMap) Len() int {
	return len(m.order)
}

// Discover walks the remote tree below root depth-first and records every
// directory it can list. root is given a trailing "/" if it lacks one.
//
// A listing that fails with a connection error is retried once on a fresh
// connection; if that fails too the walk stops with a *DiscoveryError.
// Directories below root that the server refuses to list are left out with
// their subtree. An unreadable root is a *DiscoveryError.
func Discover(ctx context.Context, session *Session, root string, logger logrus.FieldLogger) (*DirectoryMap, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}

	d := &discoverer{session: session, logger: logger, root: root, tree: NewDirectoryMap()}
	if err := d.walk(ctx, root); err != nil {
		return nil, err
	}
	return d.tree, nil
}

type discoverer struct {
	session *Session
	logger  logrus.FieldLogger
	root    string
	tree    *DirectoryMap
}

func (d *discoverer) walk(ctx context.Context, dir string) error {
	subdirs, err := d.subdirectories(ctx, dir)
	if err != nil {
		if IsPermissionError(err) && dir != d.root {
			d.logger.WithError(err).WithField("remote_dir", dir).Warn("Skipping unreadable directory")
			return nil
		}
		return &DiscoveryError{Dir: dir, Err: err}
	}

	d.tree.set(dir, subdirs)

	for _, subdir := range subdirs {
		if err := d.walk(ctx, subdir); err != nil {
			return err
		}
	}
	return nil
}

// subdirectories lists dir, reconnecting and retrying once on a
// connection error.
func (d *discoverer) subdirectories(ctx context.Context, dir string) ([]string, error) {
	entries, err := d.session.List(ctx, dir)
	if err != nil && IsConnectionError(err) {
		d.logger.WithError(err).WithField("remote_dir", dir).Error("Listing failed, reconnecting and retrying")
		if rerr := d.session.Reopen(ctx); rerr != nil {
			return nil, rerr
		}
		entries, err = d.session.List(ctx, dir)
	}
	if err != nil {
		return nil, err
	}

	var subdirs []string
	for _, e := range entries {
		if e.IsDir {
			subdirs = append(subdirs, dir+e.Name+"/")
		}
	}
	return subdirs, nil
}
