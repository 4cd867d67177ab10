package discovery

import (
	"context"
	"errors"
	"fmt"
	"go/build"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/drblury/eventscore/event"
	errspkg "github.com/drblury/eventscore/internal/runtime/errors"
)

// Catalog collects registrations declared by package init functions.
type Catalog struct {
	mu   sync.Mutex
	regs []Registration
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// DefaultCatalog receives everything passed to the package-level Declare.
var DefaultCatalog = NewCatalog()

// Declare records a consumer and returns its registration. It panics on
// invalid input because declarations run during package initialisation.
func (c *Catalog) Declare(fn func(context.Context, event.Event) error, eventType event.Type, group event.Group, opts ...Option) Registration {
	reg, err := NewRegistration(fn, eventType, group, opts...)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.regs = append(c.regs, reg)
	c.mu.Unlock()
	return reg
}

// All returns a copy of every declaration in declaration order.
func (c *Catalog) All() []Registration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Registration(nil), c.regs...)
}

// Declare records a consumer in DefaultCatalog.
func Declare(fn func(context.Context, event.Event) error, eventType event.Type, group event.Group, opts ...Option) Registration {
	return DefaultCatalog.Declare(fn, eventType, group, opts...)
}

// Discover validates that root is a Go package directory and returns the
// catalog declarations made by packages inside it, sorted by identity.
//
// A declaration matches when its import path ends with base(root) joined
// with the package directory relative to root.
func Discover(root string, catalog *Catalog) ([]Registration, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrDiscoveryRootNotFound, root)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrDiscoveryRootNotDirectory, root)
	}
	if !isGoPackage(root) {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrDiscoveryRootNotPackage, root)
	}

	suffixes, err := packageSuffixes(root)
	if err != nil {
		return nil, err
	}

	var found []Registration
	for _, reg := range catalog.All() {
		if matchesAny(reg.Package, suffixes) {
			found = append(found, reg)
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Identity < found[j].Identity })
	return found, nil
}

func isGoPackage(dir string) bool {
	_, err := build.ImportDir(dir, 0)
	return err == nil
}

func packageSuffixes(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(abs)

	var suffixes []string
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if p != abs && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "testdata" || name == "vendor") {
			return filepath.SkipDir
		}
		if !isGoPackage(p) {
			return nil
		}
		rel, err := filepath.Rel(abs, p)
		if err != nil {
			return err
		}
		suffixes = append(suffixes, path.Join(base, filepath.ToSlash(rel)))
		return nil
	})
	return suffixes, err
}

func matchesAny(pkg string, suffixes []string) bool {
	if pkg == "" {
		return false
	}
	for _, s := range suffixes {
		if pkg == s || strings.HasSuffix(pkg, "/"+s) {
			return true
		}
	}
	return false
}
