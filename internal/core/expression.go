package core

import (
	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

// LoadExpressions returns a copy of the expression matrix for the given
// quality tier and gene identifier scheme.
func LoadExpressions(store *MetadataStore, tier domain.QualityTier, scheme domain.GeneIDScheme) (*table.Matrix, error) {
	if store == nil {
		return nil, domain.ConfigurationError{Parameter: "store", Reason: "metadata store required"}
	}
	key := domain.ExpressionKey{Tier: tier, Scheme: scheme}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	m, ok := store.Expression(key)
	if !ok {
		return nil, domain.NotFoundError{Kind: "expression matrix", Name: key.String()}
	}
	return m, nil
}
