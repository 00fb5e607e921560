package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// seedProduct описывает строку файла начального каталога.
type seedProduct struct {
	ID         string              `json:"id"`
	BusinessID string              `json:"business_id"`
	Name       string              `json:"name"`
	SKU        string              `json:"sku"`
	Price      decimal.Decimal     `json:"price"`
	SalePrice  decimal.NullDecimal `json:"sale_price"`
	Weight     decimal.Decimal     `json:"weight"`
	Available  int64               `json:"available"`
}

// seedCatalog заводит товары из JSON-файла. Уже существующие товары пропускаются.
func seedCatalog(ctx context.Context, catalog domain.ProductCatalog, path string, logger *log.Entry) (int, error) {
	if path == "" {
		return 0, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog seed: %w", err)
	}

	var products []seedProduct
	if err := json.Unmarshal(raw, &products); err != nil {
		return 0, fmt.Errorf("decode catalog seed %s: %w", path, err)
	}

	created := 0
	for _, p := range products {
		err := catalog.Create(ctx, domain.Product{
			ID:         p.ID,
			BusinessID: p.BusinessID,
			Name:       p.Name,
			SKU:        p.SKU,
			Price:      p.Price,
			SalePrice:  p.SalePrice,
			Weight:     p.Weight,
			Available:  p.Available,
			Active:     true,
		})
		switch {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrProductExists):
			logger.WithField("product_id", p.ID).Debug("seed product already exists")
		default:
			return created, fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	logger.WithFields(log.Fields{"path": path, "created": created}).Info("catalog seeded")
	return created, nil
}
