// Package precomputed serves subtype predictions computed ahead of time and
// shipped with the cohort bundle.
package precomputed

import (
	"context"
	"fmt"

	"usqutils/internal/bundle"
	"usqutils/pkg/classifier"
	"usqutils/pkg/table"
)

// Classifier answers Classify from a fixed result. Only samples present in
// the supplied matrix are returned; samples without a stored prediction are
// simply absent.
type Classifier struct {
	result classifier.Result
	strict bool
}

// Option configures a Classifier.
type Option func(*Classifier)

// Strict makes Classify fail when a matrix sample has no stored 5-class call.
func Strict() Option {
	return func(c *Classifier) { c.strict = true }
}

// New wraps a stored result.
func New(result classifier.Result, opts ...Option) *Classifier {
	c := &Classifier{result: result.Subset(result.Samples())}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromBundle builds a classifier from the predictions shipped with b.
func FromBundle(b *bundle.Bundle, opts ...Option) (*Classifier, error) {
	if b == nil || b.Predictions == nil {
		return nil, fmt.Errorf("bundle has no precomputed predictions")
	}
	return New(*b.Predictions, opts...), nil
}

// Classify implements classifier.Classifier.
func (c *Classifier) Classify(ctx context.Context, expr *table.Matrix, opts classifier.Options) (classifier.Result, error) {
	if err := ctx.Err(); err != nil {
		return classifier.Result{}, err
	}
	if err := opts.Validate(); err != nil {
		return classifier.Result{}, err
	}
	if expr == nil {
		return classifier.Result{}, fmt.Errorf("precomputed classifier: expression matrix required")
	}
	if c.strict {
		for _, id := range expr.Samples {
			if _, ok := c.result.Predictions5[id]; !ok {
				return classifier.Result{}, fmt.Errorf("precomputed classifier: no prediction for sample %s", id)
			}
		}
	}
	return c.result.Subset(expr.Samples), nil
}

// Samples lists the samples with stored predictions.
func (c *Classifier) Samples() []string { return c.result.Samples() }

var _ classifier.Classifier = (*Classifier)(nil)
