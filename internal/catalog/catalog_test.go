package catalog

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRegisterAndList(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if err := c.Register(ctx, "silver", "2025-06-01", 100); err != nil {
		t.Fatal(err)
	}
	if err := c.Register(ctx, "silver", "2025-06-02", 50); err != nil {
		t.Fatal(err)
	}
	if err := c.Register(ctx, "gold", "revenue_by_location_day/2025-06-01", 3); err != nil {
		t.Fatal(err)
	}

	silver, err := c.List(ctx, "silver")
	if err != nil {
		t.Fatal(err)
	}
	if len(silver) != 2 {
		t.Fatalf("silver partitions = %d, want 2", len(silver))
	}
	if silver[0].PartitionKey != "2025-06-01" || silver[0].RowCount != 100 {
		t.Errorf("unexpected first partition: %+v", silver[0])
	}

	all, err := c.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("all partitions = %d, want 3", len(all))
	}
}

func TestRegister_Additive(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if err := c.Register(ctx, "silver", "2025-06-01", 10); err != nil {
		t.Fatal(err)
	}
	if err := c.Register(ctx, "silver", "2025-06-01", 5); err != nil {
		t.Fatal(err)
	}

	parts, err := c.List(ctx, "silver")
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 || parts[0].RowCount != 15 {
		t.Errorf("partitions = %+v, want one entry with 15 rows", parts)
	}
}
