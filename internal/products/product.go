package products

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewProduct is the create input. The id is never accepted from callers.
type NewProduct struct {
	Name        *string  `json:"name"        validate:"required,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=2000"`
	Price       *float64 `json:"price"       validate:"omitempty,gte=0"`
}

// ProductPatch carries the fields of a partial update; nil means "leave as is".
type ProductPatch struct {
	Name        *string  `json:"name"        validate:"omitempty,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=2000"`
	Price       *float64 `json:"price"       validate:"omitempty,gte=0"`
}

// Removal acknowledges a successful delete.
type Removal struct {
	ID string `json:"id"`
}

func (r Removal) Message() string {
	return fmt.Sprintf("Product %s removed", r.ID)
}

func (in NewProduct) normalize() NewProduct {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
	}
	return in
}

func (in NewProduct) build(id string) (Product, error) {
	in = in.normalize()
	if in.Name != nil && *in.Name == "" {
		return Product{}, fmt.Errorf("%w: name failed on rule: required", ErrBadRequest)
	}
	if err := check(in); err != nil {
		return Product{}, err
	}

	p := Product{ID: id, Name: *in.Name}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	return p, nil
}

func (p ProductPatch) normalize() ProductPatch {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		p.Name = &name
	}
	return p
}

func (p ProductPatch) validated() (ProductPatch, error) {
	p = p.normalize()
	if p.Name != nil && *p.Name == "" {
		return p, fmt.Errorf("%w: name must not be blank", ErrBadRequest)
	}
	return p, check(p)
}

// Apply returns dst with the supplied fields replaced. ID is never touched.
func (p ProductPatch) Apply(dst Product) Product {
	if p.Name != nil {
		dst.Name = *p.Name
	}
	if p.Description != nil {
		dst.Description = *p.Description
	}
	if p.Price != nil {
		dst.Price = *p.Price
	}
	return dst
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Field()+" failed on rule: "+fe.Tag())
	}
	return fmt.Errorf("%w: %s", ErrBadRequest, strings.Join(msgs, "; "))
}

// SeedProducts returns the sample catalogue the memory store starts with.
func SeedProducts() []Product {
	return []Product{
		{ID: "1", Name: "P1", Description: "P description 1", Price: 19.99},
		{ID: "2", Name: "P2", Description: "P2 description", Price: 29.99},
		{ID: "3", Name: "P3", Description: "P3 description", Price: 39.99},
	}
}
