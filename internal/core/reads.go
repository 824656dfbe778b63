package core

import (
	"assetcore/pkg/domain"
	"context"
)

// GetAsset returns a single asset.
func (s *Service) GetAsset(ctx context.Context, id string) (Asset, error) {
	doc, err := s.store.Get(ctx, domain.DocumentRef{Collection: EntityAsset, ID: id})
	if err != nil {
		return Asset{}, classifyError("get_asset", err)
	}
	var asset Asset
	if err := doc.Decode(&asset); err != nil {
		return Asset{}, classifyError("get_asset", err)
	}
	return asset, nil
}

// ListAssets returns assets matching conds, ordered by name.
func (s *Service) ListAssets(ctx context.Context, conds ...domain.Condition) ([]Asset, error) {
	return queryAs[Asset](ctx, s, domain.Query{
		Collection: EntityAsset,
		Conditions: conds,
		OrderBy:    []domain.OrderBy{{Field: "name"}},
	})
}

// ListAssignments returns the assignments of an asset, or of every asset when
// assetID is empty, newest first.
func (s *Service) ListAssignments(ctx context.Context, assetID string) ([]Assignment, error) {
	q := domain.Query{
		Collection: EntityAssignment,
		OrderBy:    []domain.OrderBy{{Field: "start_date", Desc: true}},
	}
	if assetID != "" {
		q.Conditions = []domain.Condition{domain.Where("asset_id", domain.OpEqual, assetID)}
	}
	return queryAs[Assignment](ctx, s, q)
}

// AssetHistory returns the history of an asset in the order it was written.
func (s *Service) AssetHistory(ctx context.Context, assetID string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindAsset(assetID); !ok {
			return &domain.NotFoundError{Entity: EntityAsset, ID: assetID}
		}
		out = view.ListHistory(assetID)
		return nil
	})
	return out, classifyError("asset_history", err)
}

// AssetMaintenance returns the maintenance records of an asset by date.
func (s *Service) AssetMaintenance(ctx context.Context, assetID string) ([]MaintenanceRecord, error) {
	var out []MaintenanceRecord
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindAsset(assetID); !ok {
			return &domain.NotFoundError{Entity: EntityAsset, ID: assetID}
		}
		out = view.ListMaintenance(assetID)
		return nil
	})
	return out, classifyError("asset_maintenance", err)
}

// Query evaluates q against committed state.
func (s *Service) Query(ctx context.Context, q domain.Query) ([]domain.Document, error) {
	docs, err := s.store.Query(ctx, q)
	return docs, classifyError("query", err)
}

// Subscribe delivers the result set of q now and after every change to its
// collection until cancelled.
func (s *Service) Subscribe(ctx context.Context, q domain.Query, fn domain.SubscribeFunc) (domain.CancelFunc, error) {
	cancel, err := s.store.Subscribe(ctx, q, fn)
	if err != nil {
		return nil, classifyError("subscribe", err)
	}
	return cancel, nil
}

func queryAs[T any](ctx context.Context, s *Service, q domain.Query) ([]T, error) {
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, classifyError("query_"+string(q.Collection), err)
	}
	out, err := domain.DecodeDocuments[T](docs)
	if err != nil {
		return nil, classifyError("query_"+string(q.Collection), err)
	}
	return out, nil
}
