package palletdb

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	dbpkg "palletizer-control/internal/db"
	"palletizer-control/internal/model"
)

// Catalog is the operator-maintained configuration loaded by `palletd seed`.
// Entries reference each other by name.
type Catalog struct {
	Specifications  []Specification      `yaml:"pallet_specifications"`
	LoadingPatterns []LoadingPattern     `yaml:"loading_patterns"`
	BarcodeTypes    []BarcodeType        `yaml:"barcode_types"`
	BoxGroups       []BoxGroup           `yaml:"box_groups"`
	PalletGroups    []CatalogPalletGroup `yaml:"pallet_groups"`
}

type Specification struct {
	Name     string  `yaml:"name"`
	Width    float64 `yaml:"width"`
	Length   float64 `yaml:"length"`
	Height   float64 `yaml:"height"`
	Overhang int     `yaml:"overhang"`
}

type LoadingPattern struct {
	Name       string `yaml:"name"`
	Selectable bool   `yaml:"selectable"`
}

type BarcodeType struct {
	Name                string `yaml:"name"`
	SampleData          string `yaml:"sample_data"`
	ProductCodeLocation string `yaml:"product_code_location"`
	WeightLocation      string `yaml:"weight_location"`
	Unit                string `yaml:"unit"`
	Digits              int    `yaml:"digits"`
}

type BoxGroup struct {
	Name  string `yaml:"name"`
	Boxes []Box  `yaml:"boxes"`
}

type Box struct {
	Name           string  `yaml:"name"`
	Width          float64 `yaml:"width"`
	Height         float64 `yaml:"height"`
	Length         float64 `yaml:"length"`
	Weight         float64 `yaml:"weight"`
	LabelDirection int     `yaml:"label_direction"`
	BarcodeType    string  `yaml:"barcode_type"`
}

// CatalogPalletGroup is a seed entry; PalletGroup is the read-side view.
type CatalogPalletGroup struct {
	Name     string          `yaml:"name"`
	Location string          `yaml:"location"`
	Pallets  []CatalogPallet `yaml:"pallets"`
}

type CatalogPallet struct {
	Location         string  `yaml:"location"`
	IsBuffer         bool    `yaml:"is_buffer"`
	IsUse            *bool   `yaml:"is_use"`
	LoadingHeight    float64 `yaml:"loading_height"`
	OrderInformation string  `yaml:"order_information"`
	BoxGroup         string  `yaml:"box_group"`
	Specification    string  `yaml:"specification"`
	LoadingPattern   string  `yaml:"loading_pattern"`
}

// SeedResult counts the rows written by Seed.
type SeedResult struct {
	Specifications  int `json:"specifications"`
	LoadingPatterns int `json:"loadingPatterns"`
	BarcodeTypes    int `json:"barcodeTypes"`
	BoxGroups       int `json:"boxGroups"`
	Boxes           int `json:"boxes"`
	PalletGroups    int `json:"palletGroups"`
	Pallets         int `json:"pallets"`
}

// LoadCatalog reads a catalog YAML file.
func LoadCatalog(path string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	return c, nil
}

// Seed writes the whole catalog in one transaction. A reference to an
// unknown name aborts the seed with nothing written.
func (c *Client) Seed(ctx context.Context, cat Catalog) (SeedResult, error) {
	var res SeedResult
	err := c.db.RetryTx(ctx, "seed catalog", func(tx *sqlx.Tx) error {
		res = SeedResult{}
		s := seeder{
			tx:       tx,
			specs:    make(map[string]int64),
			patterns: make(map[string]int64),
			barcodes: make(map[string]int64),
			groups:   make(map[string]int64),
		}
		return s.run(ctx, cat, &res)
	})
	return res, err
}

type seeder struct {
	tx       *sqlx.Tx
	specs    map[string]int64
	patterns map[string]int64
	barcodes map[string]int64
	groups   map[string]int64
}

func (s *seeder) run(ctx context.Context, cat Catalog, res *SeedResult) error {
	for _, sp := range cat.Specifications {
		m := &model.PalletSpecification{Name: sp.Name, Width: sp.Width, Length: sp.Length, Height: sp.Height, Overhang: sp.Overhang}
		if err := dbpkg.CreatePalletSpecification(ctx, s.tx, m); err != nil {
			return err
		}
		s.specs[sp.Name] = m.ID
		res.Specifications++
	}
	for _, lp := range cat.LoadingPatterns {
		m := &model.LoadingPattern{Name: lp.Name, IsSelectable: lp.Selectable}
		if err := dbpkg.CreateLoadingPattern(ctx, s.tx, m); err != nil {
			return err
		}
		s.patterns[lp.Name] = m.ID
		res.LoadingPatterns++
	}
	for _, bt := range cat.BarcodeTypes {
		m := &model.BarcodeType{
			Name:                bt.Name,
			SampleData:          bt.SampleData,
			ProductCodeLocation: bt.ProductCodeLocation,
			WeightLocation:      bt.WeightLocation,
			Unit:                bt.Unit,
			Digits:              bt.Digits,
		}
		if err := dbpkg.CreateBarcodeType(ctx, s.tx, m); err != nil {
			return err
		}
		s.barcodes[bt.Name] = m.ID
		res.BarcodeTypes++
	}
	for _, bg := range cat.BoxGroups {
		g := &model.BoxGroup{Name: bg.Name}
		if err := dbpkg.CreateBoxGroup(ctx, s.tx, g); err != nil {
			return err
		}
		s.groups[bg.Name] = g.ID
		res.BoxGroups++
		for _, b := range bg.Boxes {
			m := &model.Box{
				BoxGroupID:     g.ID,
				Name:           b.Name,
				Width:          b.Width,
				Height:         b.Height,
				Length:         b.Length,
				Weight:         b.Weight,
				LabelDirection: b.LabelDirection,
			}
			id, err := ref(s.barcodes, "barcode type", b.BarcodeType)
			if err != nil {
				return fmt.Errorf("box %s: %w", b.Name, err)
			}
			m.BarcodeTypeID = id
			if err := dbpkg.CreateBox(ctx, s.tx, m); err != nil {
				return err
			}
			res.Boxes++
		}
	}
	for _, pg := range cat.PalletGroups {
		g := &model.PalletGroup{Name: pg.Name, Location: pg.Location}
		if err := dbpkg.CreatePalletGroup(ctx, s.tx, g); err != nil {
			return err
		}
		res.PalletGroups++
		for _, p := range pg.Pallets {
			m := &model.Pallet{
				PalletGroupID:    g.ID,
				IsBuffer:         p.IsBuffer,
				IsUse:            p.IsUse == nil || *p.IsUse,
				Location:         p.Location,
				LoadingHeight:    p.LoadingHeight,
				OrderInformation: p.OrderInformation,
			}
			var err error
			if m.BoxGroupID, err = ref(s.groups, "box group", p.BoxGroup); err != nil {
				return fmt.Errorf("pallet group %s: %w", pg.Name, err)
			}
			if m.PalletSpecificationID, err = ref(s.specs, "pallet specification", p.Specification); err != nil {
				return fmt.Errorf("pallet group %s: %w", pg.Name, err)
			}
			if m.LoadingPatternID, err = ref(s.patterns, "loading pattern", p.LoadingPattern); err != nil {
				return fmt.Errorf("pallet group %s: %w", pg.Name, err)
			}
			if err := dbpkg.CreatePallet(ctx, s.tx, m); err != nil {
				return err
			}
			res.Pallets++
		}
	}
	return nil
}

// unknownRefError is permanent so the store retry wrapper gives up at once.
type unknownRefError struct{ kind, name string }

func (e *unknownRefError) Error() string   { return fmt.Sprintf("unknown %s %q", e.kind, e.name) }
func (e *unknownRefError) Permanent() bool { return true }

// ref resolves an optional name; an empty name is no reference.
func ref(ids map[string]int64, kind, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	id, ok := ids[name]
	if !ok {
		return nil, &unknownRefError{kind, name}
	}
	return &id, nil
}
