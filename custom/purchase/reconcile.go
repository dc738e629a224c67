package purchase

import (
	"context"
	"fmt"
	"strings"

	"github.com/romana/rlog"
	"github.com/spf13/cast"
	"preorder_hub/constants"
	"preorder_hub/custom/auth"
	"preorder_hub/custom/processor"
)

// reconcileProduct returns the active product named req.ProductName, creating it when missing.
// Concurrent calls for one name share a single lookup and create.
func (s *Service) reconcileProduct(ctx context.Context, principal *auth.Principal, req Request) (*processor.Product, error) {
	v, err, shared := s.products.Do(req.ProductName, func() (interface{}, error) {
		products, err := s.processor.ListActiveProducts(ctx, constants.PROCESSOR_LIST_LIMIT)
		if err != nil {
			return nil, err
		}
		for i := range products {
			if products[i].Name == req.ProductName {
				return &products[i], nil
			}
		}

		product, err := s.processor.CreateProduct(ctx, processor.ProductParams{
			Name:           req.ProductName,
			Description:    fmt.Sprintf("%s (%s)", req.ProductName, strings.ReplaceAll(req.PurchaseType, "_", " ")),
			Metadata:       reconcileMetadata(principal, req),
			IdempotencyKey: processor.IdempotencyKey("product", req.ProductName),
		})
		if err != nil {
			return nil, err
		}
		rlog.Infof("Created processor product %s for %s", product.ID, req.ProductName)
		return product, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		rlog.Debugf("Shared product reconciliation for %s", req.ProductName)
	}
	return v.(*processor.Product), nil
}

// reconcilePrice returns the active monthly price of the product matching amount and currency,
// creating it when missing.
func (s *Service) reconcilePrice(ctx context.Context, principal *auth.Principal, req Request, productID string, amount int64) (*processor.Price, error) {
	key := priceKey(productID, amount, req.Currency, processor.INTERVAL_MONTH)
	v, err, _ := s.prices.Do(key, func() (interface{}, error) {
		prices, err := s.processor.ListActivePricesForProduct(ctx, productID, constants.PROCESSOR_LIST_LIMIT)
		if err != nil {
			return nil, err
		}
		for i := range prices {
			if prices[i].UnitAmount == amount &&
				strings.EqualFold(prices[i].Currency, req.Currency) &&
				prices[i].Interval == processor.INTERVAL_MONTH {
				return &prices[i], nil
			}
		}

		price, err := s.processor.CreateRecurringPrice(ctx, processor.PriceParams{
			ProductID:      productID,
			UnitAmount:     amount,
			Currency:       req.Currency,
			Interval:       processor.INTERVAL_MONTH,
			Metadata:       reconcileMetadata(principal, req),
			IdempotencyKey: processor.IdempotencyKey("price", key),
		})
		if err != nil {
			return nil, err
		}
		rlog.Infof("Created processor price %s for product %s", price.ID, productID)
		return price, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*processor.Price), nil
}

func priceKey(productID string, amount int64, currency string, interval string) string {
	return strings.Join([]string{productID, cast.ToString(amount), currency, interval}, "|")
}

func reconcileMetadata(principal *auth.Principal, req Request) map[string]string {
	return map[string]string{
		constants.META_TYPE:        req.PurchaseType,
		constants.META_TOTAL_LEAKS: cast.ToString(req.TotalLeaks),
		constants.META_USER_ID:     principal.UserID,
	}
}
