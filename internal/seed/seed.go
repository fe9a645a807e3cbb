// Package seed bootstraps the credit-package catalog so a fresh install is
// purchasable out of the box. Every insert is slug-keyed and conflict-free,
// so reruns are no-ops.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type pkgSeed struct {
	slug     string
	name     string
	credits  int64
	amount   int64
	currency string
}

var defaultPackages = []pkgSeed{
	{slug: "starter", name: "Starter", credits: 100, amount: 9900, currency: "INR"},
	{slug: "growth", name: "Growth", credits: 500, amount: 39900, currency: "INR"},
	{slug: "scale", name: "Scale", credits: 2000, amount: 129900, currency: "INR"},
}

// EnsureDefaultCatalog inserts the stock credit packages when missing.
func EnsureDefaultCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, pkg := range defaultPackages {
			if err := tx.WithContext(ctx).Exec(
				`INSERT INTO credit_packages (id, slug, name, credits, amount, currency, active, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (slug) DO NOTHING`,
				node.Generate(), pkg.slug, pkg.name, pkg.credits, pkg.amount, pkg.currency, true, now,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
