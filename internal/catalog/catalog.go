// Package catalog resolves a datalab's display order into typed column descriptors.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/datalab/internal/domain"
)

// FormResolver loads form definitions referenced by form steps.
type FormResolver interface {
	ResolveForm(ctx context.Context, id string) (domain.Form, error)
}

// Builder derives column catalogs from order lists and step definitions.
type Builder struct {
	forms FormResolver
}

// NewBuilder constructs a column catalog builder that resolves forms through forms.
func NewBuilder(forms FormResolver) *Builder {
	return &Builder{forms: forms}
}

// Build resolves every order entry against steps, preserving order-list order.
func (b *Builder) Build(ctx context.Context, order []domain.OrderItem, steps []domain.Step) ([]domain.Column, error) {
	forms := make(map[string]domain.Form)
	columns := make([]domain.Column, 0, len(order))
	for _, item := range order {
		if item.StepIndex < 0 || item.StepIndex >= len(steps) {
			return nil, &domain.UnknownColumnError{StepIndex: item.StepIndex, Field: item.Field}
		}
		step := steps[item.StepIndex]
		column := domain.Column{
			Field:     item.Field,
			StepIndex: item.StepIndex,
			Visible:   item.Visible,
			Pinned:    item.Pinned,
			Options:   []domain.ListOption{},
			SubFields: []string{},
		}

		switch step.Type {
		case domain.StepDatasource:
			if step.Datasource == nil || !step.Datasource.HasField(item.Field) {
				return nil, &domain.UnknownColumnError{StepIndex: item.StepIndex, Field: item.Field}
			}
			column.Label = step.Datasource.Label(item.Field)
			column.Type = step.Datasource.Type(item.Field).Normalize()
		case domain.StepForm:
			form, ok := forms[step.Form]
			if !ok {
				loaded, err := b.loadForm(ctx, step.Form)
				if err != nil {
					return nil, err
				}
				form = loaded
				forms[step.Form] = form
			}
			if err := describeFormColumn(&column, form); err != nil {
				return nil, err
			}
		case domain.StepComputed:
			if step.Computed == nil {
				return nil, &domain.UnknownColumnError{StepIndex: item.StepIndex, Field: item.Field}
			}
			field, ok := step.Computed.Field(item.Field)
			if !ok {
				return nil, &domain.UnknownColumnError{StepIndex: item.StepIndex, Field: item.Field}
			}
			column.Label = field.Name
			column.Type = field.Type
			if column.Type == "" {
				column.Type = field.Formula.ResultType()
			}
			column.Type = column.Type.Normalize()
		default:
			return nil, &domain.UnknownColumnError{StepIndex: item.StepIndex, Field: item.Field}
		}
		columns = append(columns, column)
	}
	return columns, nil
}

func (b *Builder) loadForm(ctx context.Context, id string) (domain.Form, error) {
	if b.forms == nil {
		return domain.Form{}, &domain.UnresolvedReferenceError{Kind: domain.ReferenceForm, ID: id}
	}
	form, err := b.forms.ResolveForm(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Form{}, &domain.UnresolvedReferenceError{Kind: domain.ReferenceForm, ID: id}
		}
		return domain.Form{}, fmt.Errorf("resolve form %s: %w", id, err)
	}
	return form, nil
}

func describeFormColumn(column *domain.Column, form domain.Form) error {
	column.Label = column.Field
	if column.Field == form.Primary {
		column.Type = domain.FieldTypeText
		return nil
	}
	field, ok := form.Field(column.Field)
	if !ok {
		return &domain.UnknownColumnError{StepIndex: column.StepIndex, Field: column.Field}
	}
	column.Type = field.Type.Normalize()
	if len(field.Options) > 0 {
		column.Options = append([]domain.ListOption(nil), field.Options...)
	}
	if len(field.Columns) > 0 {
		column.SubFields = append([]string(nil), field.Columns...)
	}
	return nil
}

// SourceCatalog describes a datalab's output columns for a datasource step
// that embeds the datalab as its source.
func (b *Builder) SourceCatalog(ctx context.Context, lab domain.Datalab) (domain.SourceCatalog, error) {
	columns, err := b.Build(ctx, lab.Order, lab.Steps)
	if err != nil {
		return domain.SourceCatalog{}, fmt.Errorf("catalog for datalab %s: %w", lab.ID, err)
	}
	catalog := domain.SourceCatalog{
		Labels:         make(map[string]string, len(columns)),
		FieldTypes:     make(map[string]domain.FieldType, len(columns)),
		Order:          make([]string, 0, len(columns)),
		CheckboxGroups: make(map[string][]string),
	}
	for _, step := range lab.Steps {
		if step.Type == domain.StepDatasource && step.Datasource != nil {
			catalog.Primary = step.Datasource.Label(step.Datasource.Primary)
			break
		}
	}
	for _, column := range columns {
		catalog.Labels[column.Label] = column.Label
		catalog.FieldTypes[column.Label] = column.Type
		catalog.Order = append(catalog.Order, column.Label)
		if column.Type == domain.FieldTypeCheckboxGroup {
			catalog.CheckboxGroups[column.Label] = append([]string(nil), column.SubFields...)
		}
	}
	return catalog, nil
}
