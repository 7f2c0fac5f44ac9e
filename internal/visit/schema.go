package visit

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldKind describes how a survey answer is entered and validated.
type FieldKind int

const (
	// Choice answers must be one of the field's options.
	Choice FieldKind = iota
	// Number answers must parse as a decimal number.
	Number
	// Text answers are free text.
	Text
)

var kindNames = []string{"choice", "number", "text"}

// String returns the kind's name.
func (k FieldKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "FieldKind(" + strconv.Itoa(int(k)) + ")"
}

// MarshalText encodes the kind by name.
func (k FieldKind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("unknown field kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind name.
func (k *FieldKind) UnmarshalText(b []byte) error {
	for i, n := range kindNames {
		if n == string(b) {
			*k = FieldKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown field kind %q", b)
}

// Field is one survey question.
type Field struct {
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Column   string    `json:"column"` // CSV header
	Block    string    `json:"block"`
	Kind     FieldKind `json:"kind"`
	Options  []string  `json:"options,omitempty"`
	Required bool      `json:"required"`
}

// Check validates a non-empty answer against the field's kind.
func (f Field) Check(value string) error {
	switch f.Kind {
	case Choice:
		for _, o := range f.Options {
			if o == value {
				return nil
			}
		}
		return fmt.Errorf("%w: %q is not an option for %s", ErrInvalidValue, value, f.Name)
	case Number:
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return fmt.Errorf("%w: %s must be a number", ErrInvalidValue, f.Name)
		}
	}
	return nil
}

// Block groups fields under a heading.
type Block struct {
	Title  string
	Fields []Field
}

// Schema is one survey layout for the visit form.
type Schema struct {
	Name   string  `json:"name"`
	Title  string  `json:"title"`
	Fields []Field `json:"fields"`

	// Campaigns lists the campaign options. Empty when the schema has no
	// campaign multi-select.
	Campaigns       []string `json:"campaigns,omitempty"`
	MaxCampaigns    int      `json:"max_campaigns,omitempty"`
	CampaignsColumn string   `json:"campaigns_column,omitempty"`
}

// HasCampaigns reports whether the schema carries a campaign multi-select.
func (s *Schema) HasCampaigns() bool { return len(s.Campaigns) > 0 }

// Field looks up a survey field by name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IsCampaign checks if c is a campaign option.
func (s *Schema) IsCampaign(c string) bool {
	for _, v := range s.Campaigns {
		if v == c {
			return true
		}
	}
	return false
}

// Blocks returns the fields grouped by block, in declaration order.
func (s *Schema) Blocks() []Block {
	var blocks []Block
	for _, f := range s.Fields {
		if n := len(blocks); n > 0 && blocks[n-1].Title == f.Block {
			blocks[n-1].Fields = append(blocks[n-1].Fields, f)
			continue
		}
		blocks = append(blocks, Block{Title: f.Block, Fields: []Field{f}})
	}
	return blocks
}

var (
	statusOptions   = []string{"Ok", "En proceso", "Sin Revisión", "Blocker"}
	levelOptions    = []string{"Top Oro", "Top Plata", "Top Básico", "Alerta"}
	improveOptions  = []string{"Ok", "Por Mejorar"}
	yesNoOptions    = []string{"Si", "No"}
	adsOptions      = []string{"Si", "Upselling", "Negociando", "No"}
	outcomeOptions  = []string{"Cerrado", "En negociación", "Seguimiento", "Sin interés"}
	campaignOptions = []string{"Viral Deals", "Markdown", "Markdown Pro", "Ads", "Combos"}
)

// BlocksSchema models the survey as four thematic blocks.
var BlocksSchema = &Schema{
	Name:  "blocks",
	Title: "Catalog, markdown, top operator and growth",
	Fields: []Field{
		{Name: "catalogPhotos", Label: "Fotos", Column: "Catálogo Fotos", Block: "Catálogo", Kind: Choice, Options: statusOptions, Required: true},
		{Name: "catalogDescriptions", Label: "Descripciones", Column: "Catálogo Descripciones", Block: "Catálogo", Kind: Choice, Options: statusOptions, Required: true},
		{Name: "catalogMenuStructure", Label: "Estructura Menú / Toppings", Column: "Catálogo Menú/Toppings", Block: "Catálogo", Kind: Choice, Options: statusOptions, Required: true},
		{Name: "priceParity", Label: "Price Parity", Column: "Price Parity", Block: "Catálogo", Kind: Number, Required: true},
		{Name: "mdStandard", Label: "MD (Markdown)", Column: "MD", Block: "Markdown", Kind: Choice, Options: statusOptions, Required: true},
		{Name: "mdPro", Label: "MD PRO (Markdown Pro)", Column: "MD PRO", Block: "Markdown", Kind: Choice, Options: statusOptions, Required: true},
		{Name: "topOperatorLevel", Label: "Level", Column: "Top Operator Level", Block: "Top Operator", Kind: Choice, Options: levelOptions, Required: true},
		{Name: "topOperatorDefect", Label: "Defect", Column: "Defect", Block: "Top Operator", Kind: Choice, Options: improveOptions, Required: true},
		{Name: "topOperatorCancel", Label: "Cancel", Column: "Cancel", Block: "Top Operator", Kind: Choice, Options: improveOptions, Required: true},
		{Name: "topOperatorAvailability", Label: "Availability", Column: "Availability", Block: "Top Operator", Kind: Choice, Options: improveOptions, Required: true},
		{Name: "growthViralDeals", Label: "Viral Deals", Column: "Viral Deals", Block: "Growth", Kind: Choice, Options: yesNoOptions, Required: true},
		{Name: "growthAds", Label: "Ads (Publicidad)", Column: "Ads", Block: "Growth", Kind: Choice, Options: adsOptions, Required: true},
	},
}

// CampaignsSchema models the survey as a campaign pick plus outcome.
var CampaignsSchema = &Schema{
	Name:  "campaigns",
	Title: "Campaigns and outcome",
	Fields: []Field{
		{Name: "brandOwner", Label: "Brand Owner", Column: "Brand Owner", Block: "Campañas", Kind: Text},
		{Name: "adsStatus", Label: "Ads", Column: "Ads", Block: "Campañas", Kind: Choice, Options: adsOptions, Required: true},
		{Name: "outcome", Label: "Resultado", Column: "Resultado", Block: "Campañas", Kind: Choice, Options: outcomeOptions, Required: true},
	},
	Campaigns:       campaignOptions,
	MaxCampaigns:    2,
	CampaignsColumn: "Campañas",
}

// Schemas lists every known survey schema.
var Schemas = []*Schema{BlocksSchema, CampaignsSchema}

// SchemaByName returns the named schema.
func SchemaByName(name string) (*Schema, error) {
	for _, s := range Schemas {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown form schema: %q", name)
}
