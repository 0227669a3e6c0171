// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"testing"

	"github.com/praxishq/praxis/pkg/catalog"
	"github.com/praxishq/praxis/pkg/core"
)

// Category describes one catalog category for BuildCatalog.
type Category struct {
	Name    string
	Space   string
	Tools   []core.Tool
	Options []catalog.CategoryOption
}

// BuildCatalog assembles a catalog from the given categories, failing the
// test on any registration error.
func BuildCatalog(t *testing.T, categories ...Category) *catalog.Catalog {
	t.Helper()

	cat := catalog.New()
	for _, c := range categories {
		if err := cat.AddCategory(c.Name, c.Tools, c.Space, c.Options...); err != nil {
			t.Fatalf("add category %q: %v", c.Name, err)
		}
	}
	return cat
}
