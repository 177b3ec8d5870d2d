package providers

import (
	"context"
	"fmt"

	"github.com/bacoco/firmia/internal/analyticstore"
	"github.com/bacoco/firmia/internal/model"
	"github.com/bacoco/firmia/internal/svcerrors"
)

// BulkStaticAdapter serves entity data from the bulk-loaded analytic store
// rather than a live upstream: it is the lowest-precedence source on the
// merge ladder of spec §4.9, a fallback for business keys no live provider
// answers for. Grounded on original_source/src/api/insee_sirene.py's bulk
// SIRENE-stock fallback path, re-expressed over C8's embedded store instead
// of a pandas dataframe.
type BulkStaticAdapter struct {
	Store *analyticstore.Store
	Table  string
}

func NewBulkStaticAdapter(store *analyticstore.Store, table string) *BulkStaticAdapter {
	if table == "" {
		table = "entities"
	}
	return &BulkStaticAdapter{Store: store, Table: table}
}

func (a *BulkStaticAdapter) Name() string { return "bulkstatic" }

// GetEntity looks up a single business key in the loaded bulk table.
func (a *BulkStaticAdapter) GetEntity(ctx context.Context, businessKey string) (*model.BusinessEntity, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE business_key = ? LIMIT 1", a.Table)
	rows, err := a.Store.Execute(ctx, query, businessKey)
	if err != nil {
		return nil, svcerrors.Upstream(a.Name(), err)
	}
	if len(rows) == 0 {
		return nil, svcerrors.NotFound("entity", businessKey)
	}
	return rowToBusinessEntity(rows[0], a.Name()), nil
}

// Search runs a bounded prefix/substring match over the bulk table's name
// column. The fan-out engine does not call it; its profile path uses only
// GetEntity, as the lowest rung of spec §4.9's precedence ladder.
func (a *BulkStaticAdapter) Search(ctx context.Context, query string, limit int) ([]model.BusinessEntity, error) {
	if limit <= 0 {
		limit = 20
	}
	sql := fmt.Sprintf("SELECT * FROM %s WHERE display_name LIKE ? LIMIT ?", a.Table)
	rows, err := a.Store.Execute(ctx, sql, "%"+query+"%", limit)
	if err != nil {
		return nil, svcerrors.Upstream(a.Name(), err)
	}
	out := make([]model.BusinessEntity, 0, len(rows))
	for _, r := range rows {
		out = append(out, *rowToBusinessEntity(r, a.Name()))
	}
	return out, nil
}

func rowToBusinessEntity(row analyticstore.Row, source string) *model.BusinessEntity {
	entity := &model.BusinessEntity{
		BusinessKey:  stringField(row, "business_key"),
		DisplayName:  stringField(row, "display_name"),
		ActivityCode: stringField(row, "activity_code"),
		SizeBucket:   stringField(row, "size_bucket"),
		Active:       boolField(row, "active"),
		Privacy:      model.PrivacyOpen,
		Sources:      []string{source},
		Address: &model.Address{
			PostalCode: stringField(row, "postal_code"),
			City:       stringField(row, "city"),
		},
	}
	if creation := stringField(row, "creation_date"); creation != "" {
		entity.CreationDate = &creation
	}
	if cessation := stringField(row, "cessation_date"); cessation != "" {
		entity.CessationDate = &cessation
	}
	if code := stringField(row, "legal_form_code"); code != "" {
		entity.LegalForm = &model.LegalForm{Code: code, Label: stringField(row, "legal_form_label")}
	}
	return entity
}

func stringField(row analyticstore.Row, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func boolField(row analyticstore.Row, key string) bool {
	v, ok := row[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case string:
		return t == "1" || t == "true" || t == "A"
	default:
		return false
	}
}
