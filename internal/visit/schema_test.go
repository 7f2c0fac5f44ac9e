package visit

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSchemaByName(t *testing.T) {
	for _, name := range []string{"blocks", "campaigns"} {
		s, err := SchemaByName(name)
		if err != nil {
			t.Fatalf("SchemaByName(%q): %v", name, err)
		}
		if s.Name != name {
			t.Errorf("got %q", s.Name)
		}
	}
	if _, err := SchemaByName("nope"); err == nil {
		t.Error("expected error for unknown schema")
	}
}

func TestBlocksGrouping(t *testing.T) {
	blocks := BlocksSchema.Blocks()
	want := []struct {
		title  string
		fields int
	}{
		{"Catálogo", 4},
		{"Markdown", 2},
		{"Top Operator", 4},
		{"Growth", 2},
	}
	if len(blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d", len(blocks), len(want))
	}
	for i, w := range want {
		if blocks[i].Title != w.title || len(blocks[i].Fields) != w.fields {
			t.Errorf("block %d = %s (%d fields), want %s (%d)", i, blocks[i].Title, len(blocks[i].Fields), w.title, w.fields)
		}
	}
}

func TestFieldCheck(t *testing.T) {
	parity, _ := BlocksSchema.Field("priceParity")
	level, _ := BlocksSchema.Field("topOperatorLevel")
	owner, _ := CampaignsSchema.Field("brandOwner")

	tests := []struct {
		name    string
		field   Field
		value   string
		wantErr bool
	}{
		{"number ok", parity, "10", false},
		{"decimal ok", parity, "2.5", false},
		{"not a number", parity, "ten", true},
		{"nan", parity, "NaN", true},
		{"infinity", parity, "Inf", true},
		{"negative infinity", parity, "-infinity", true},
		{"option ok", level, "Top Oro", false},
		{"option case matters", level, "top oro", true},
		{"free text", owner, "anything; at all", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.field.Check(tt.value)
			if tt.wantErr != (err != nil) {
				t.Fatalf("Check(%q) err = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidValue) {
				t.Errorf("expected ErrInvalidValue, got %v", err)
			}
		})
	}
}

func TestSchemaJSON(t *testing.T) {
	for _, schema := range Schemas {
		data, err := json.Marshal(schema)
		if err != nil {
			t.Fatalf("marshal %s: %v", schema.Name, err)
		}
		var got Schema
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", schema.Name, err)
		}
		if diff := cmp.Diff(schema, &got); diff != "" {
			t.Errorf("%s schema changed over JSON (-want +got):\n%s", schema.Name, diff)
		}
	}
}

func TestFieldKindText(t *testing.T) {
	var k FieldKind
	if err := k.UnmarshalText([]byte("number")); err != nil || k != Number {
		t.Errorf("UnmarshalText(number) = %v, %v", k, err)
	}
	if err := k.UnmarshalText([]byte("date")); err == nil {
		t.Error("expected error for unknown kind")
	}
	if Text.String() != "text" {
		t.Errorf("Text.String() = %q", Text.String())
	}
}
