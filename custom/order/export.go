package order

import (
	"context"
	"io"
	"time"

	"github.com/romana/rlog"
	"github.com/xuri/excelize/v2"
)

const EXPORT_SHEET = "Orders"

var exportHeader = []interface{}{
	"Order Number", "Customer Email", "Customer ID", "Product", "Purchase Type",
	"Amount", "Currency", "Status", "Created At",
}

// ExportOrders writes every order matching filter to w as an xlsx workbook, newest first.
func (s *Service) ExportOrders(ctx context.Context, filter ListFilter, w io.Writer) (int, error) {
	predicate, err := filter.storeFilter()
	if err != nil {
		return 0, err
	}
	orders, err := s.store.QueryOrders(ctx, predicate, "orders.created_at DESC, orders.id DESC", 0, 0)
	if err != nil {
		rlog.Error("Query orders for export failed:", err.Error())
		return 0, err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			rlog.Error(err)
		}
	}()
	if err = f.SetSheetName("Sheet1", EXPORT_SHEET); err != nil {
		return 0, err
	}
	if err = f.SetSheetRow(EXPORT_SHEET, "A1", &exportHeader); err != nil {
		return 0, err
	}
	for i := range orders {
		view := toOrderView(&orders[i])
		row := []interface{}{
			view.OrderNumber, view.CustomerEmail, view.CustomerID, view.ProductName, view.PurchaseType,
			view.Amount, view.Currency, view.Status, view.CreatedAt.UTC().Format(time.RFC3339),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		if err = f.SetSheetRow(EXPORT_SHEET, cell, &row); err != nil {
			return 0, err
		}
	}
	if _, err = f.WriteTo(w); err != nil {
		return 0, err
	}
	return len(orders), nil
}
