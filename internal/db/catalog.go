package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"palletizer-control/internal/model"
)

// --------------------
// Pallet groups and pallets
// --------------------

const palletColumns = `id, pallet_group_id, is_buffer, is_use, is_error, location, is_invoice_visible, loading_height,
	order_information, box_group_id, pallet_specification_id, loading_pattern_id, created_at`

func CreatePalletGroup(ctx context.Context, e sqlx.ExtContext, g *model.PalletGroup) error {
	g.CreatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO pallet_groups (name, location, created_at) VALUES (:name, :location, :created_at)`, g)
	if err != nil {
		return fmt.Errorf("insert pallet group: %w", err)
	}
	g.ID, err = res.LastInsertId()
	return err
}

func GetPalletGroup(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.PalletGroup, error) {
	var g model.PalletGroup
	if err := sqlx.GetContext(ctx, q, &g, `SELECT id, name, location, created_at FROM pallet_groups WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &g, nil
}

func FindPalletGroup(ctx context.Context, q sqlx.QueryerContext, name, location string) (*model.PalletGroup, error) {
	var g model.PalletGroup
	if err := sqlx.GetContext(ctx, q, &g, `SELECT id, name, location, created_at FROM pallet_groups
		WHERE name = ? AND location = ? ORDER BY id LIMIT 1`, name, location); err != nil {
		return nil, err
	}
	return &g, nil
}

func ListPalletGroups(ctx context.Context, q sqlx.QueryerContext) ([]model.PalletGroup, error) {
	var out []model.PalletGroup
	err := sqlx.SelectContext(ctx, q, &out, `SELECT id, name, location, created_at FROM pallet_groups ORDER BY id`)
	return out, err
}

func CreatePallet(ctx context.Context, e sqlx.ExtContext, p *model.Pallet) error {
	p.CreatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO pallets
		(pallet_group_id, is_buffer, is_use, is_error, location, is_invoice_visible, loading_height, order_information,
		 box_group_id, pallet_specification_id, loading_pattern_id, created_at)
		VALUES
		(:pallet_group_id, :is_buffer, :is_use, :is_error, :location, :is_invoice_visible, :loading_height, :order_information,
		 :box_group_id, :pallet_specification_id, :loading_pattern_id, :created_at)`, p)
	if err != nil {
		return fmt.Errorf("insert pallet: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// PalletsByID returns the pallets among ids that exist, ordered by id.
func PalletsByID(ctx context.Context, q sqlx.ExtContext, ids []int64) ([]model.Pallet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+palletColumns+` FROM pallets WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	var out []model.Pallet
	err = sqlx.SelectContext(ctx, q, &out, q.Rebind(query), args...)
	return out, err
}

func ListPallets(ctx context.Context, q sqlx.QueryerContext, groupID int64) ([]model.Pallet, error) {
	var out []model.Pallet
	err := sqlx.SelectContext(ctx, q, &out, `SELECT `+palletColumns+` FROM pallets WHERE pallet_group_id = ? ORDER BY id`, groupID)
	return out, err
}

// JobPalletsByID returns the job pallets among ids that exist, ordered by id.
func JobPalletsByID(ctx context.Context, q sqlx.ExtContext, ids []int64) ([]model.JobPallet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+jobPalletColumns+` FROM job_pallets WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	var out []model.JobPallet
	err = sqlx.SelectContext(ctx, q, &out, q.Rebind(query), args...)
	return out, err
}

// --------------------
// Pallet specifications, loading patterns
// --------------------

func CreatePalletSpecification(ctx context.Context, e sqlx.ExtContext, s *model.PalletSpecification) error {
	s.CreatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO pallet_specifications (name, width, length, height, overhang, created_at)
		VALUES (:name, :width, :length, :height, :overhang, :created_at)`, s)
	if err != nil {
		return fmt.Errorf("insert pallet specification: %w", err)
	}
	s.ID, err = res.LastInsertId()
	return err
}

func GetPalletSpecification(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.PalletSpecification, error) {
	var s model.PalletSpecification
	if err := sqlx.GetContext(ctx, q, &s, `SELECT id, name, width, length, height, overhang, created_at FROM pallet_specifications WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &s, nil
}

func CreateLoadingPattern(ctx context.Context, e sqlx.ExtContext, p *model.LoadingPattern) error {
	p.CreatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO loading_patterns (name, is_selectable, created_at) VALUES (:name, :is_selectable, :created_at)`, p)
	if err != nil {
		return fmt.Errorf("insert loading pattern: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func GetLoadingPattern(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.LoadingPattern, error) {
	var p model.LoadingPattern
	if err := sqlx.GetContext(ctx, q, &p, `SELECT id, name, is_selectable, created_at FROM loading_patterns WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// --------------------
// Box groups, boxes, barcode types
// --------------------

func CreateBoxGroup(ctx context.Context, e sqlx.ExtContext, g *model.BoxGroup) error {
	g.CreatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO box_groups (name, created_at) VALUES (:name, :created_at)`, g)
	if err != nil {
		return fmt.Errorf("insert box group: %w", err)
	}
	g.ID, err = res.LastInsertId()
	return err
}

func GetBoxGroup(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.BoxGroup, error) {
	var g model.BoxGroup
	if err := sqlx.GetContext(ctx, q, &g, `SELECT id, name, created_at FROM box_groups WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &g, nil
}

func CreateBox(ctx context.Context, e sqlx.ExtContext, b *model.Box) error {
	b.CreatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO boxes
		(box_group_id, name, width, height, length, weight, label_direction, barcode_type_id, created_at)
		VALUES (:box_group_id, :name, :width, :height, :length, :weight, :label_direction, :barcode_type_id, :created_at)`, b)
	if err != nil {
		return fmt.Errorf("insert box: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

func ListBoxes(ctx context.Context, q sqlx.QueryerContext, boxGroupID int64) ([]model.Box, error) {
	var out []model.Box
	err := sqlx.SelectContext(ctx, q, &out, `SELECT id, box_group_id, name, width, height, length, weight, label_direction,
		barcode_type_id, created_at FROM boxes WHERE box_group_id = ? ORDER BY id`, boxGroupID)
	return out, err
}

func CreateBarcodeType(ctx context.Context, e sqlx.ExtContext, b *model.BarcodeType) error {
	b.CreatedAt = time.Now().UTC()
	res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO barcode_types
		(name, sample_data, product_code_location, weight_location, unit, digits, created_at)
		VALUES (:name, :sample_data, :product_code_location, :weight_location, :unit, :digits, :created_at)`, b)
	if err != nil {
		return fmt.Errorf("insert barcode type: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

func GetBarcodeType(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.BarcodeType, error) {
	var b model.BarcodeType
	if err := sqlx.GetContext(ctx, q, &b, `SELECT id, name, sample_data, product_code_location, weight_location, unit, digits,
		created_at FROM barcode_types WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &b, nil
}
