// Package seed は利用者と機材の YAML フィクスチャを DB に投入する
package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"LERS-backend/internal/platform/auth"
	pdb "LERS-backend/internal/platform/db"
	"LERS-backend/internal/reservation/borrows"

	jsoniter "github.com/json-iterator/go"
	ulid "github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

type User struct {
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	Role   string `yaml:"role"`
}

type MaintenancePeriod struct {
	StartDate string `yaml:"start_date" json:"startDate"`
	EndDate   string `yaml:"end_date" json:"endDate"`
	Note      string `yaml:"note,omitempty" json:"note,omitempty"`
}

type Equipment struct {
	EquipmentID    string              `yaml:"equipment_id"`
	Name           string              `yaml:"name"`
	Status         string              `yaml:"status"`
	MaintenanceLog []MaintenancePeriod `yaml:"maintenance_log"`
}

type Fixture struct {
	Users     []User      `yaml:"users"`
	Equipment []Equipment `yaml:"equipment"`
}

func LoadFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load は YAML を読み、ID・ロール・状態を検証して正規化する
func Load(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		if errors.Is(err, io.EOF) {
			return &fx, nil
		}
		return nil, fmt.Errorf("seed: parse yaml: %w", err)
	}

	for i := range fx.Users {
		u := &fx.Users[i]
		if _, err := ulid.ParseStrict(u.UserID); err != nil {
			return nil, fmt.Errorf("seed: users[%d]: invalid user_id %q", i, u.UserID)
		}
		if strings.TrimSpace(u.Name) == "" {
			return nil, fmt.Errorf("seed: users[%d]: name is required", i)
		}
		role := auth.ParseRole(u.Role)
		if u.Role == "" {
			role = auth.RoleStudent
		}
		if role == "" {
			return nil, fmt.Errorf("seed: users[%d]: unknown role %q", i, u.Role)
		}
		u.Role = string(role)
	}

	for i := range fx.Equipment {
		e := &fx.Equipment[i]
		if _, err := ulid.ParseStrict(e.EquipmentID); err != nil {
			return nil, fmt.Errorf("seed: equipment[%d]: invalid equipment_id %q", i, e.EquipmentID)
		}
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("seed: equipment[%d]: name is required", i)
		}
		st := borrows.EquipmentStatus(strings.ToUpper(strings.TrimSpace(e.Status)))
		if st == "" {
			st = borrows.EquipmentAvailable
		}
		switch st {
		case borrows.EquipmentAvailable, borrows.EquipmentBorrowed, borrows.EquipmentOutOfCommission, borrows.EquipmentArchived:
		default:
			return nil, fmt.Errorf("seed: equipment[%d]: unknown status %q", i, e.Status)
		}
		e.Status = string(st)
	}
	return &fx, nil
}

// Apply は既存行を上書きする（何度流しても同じ結果になる）
func Apply(ctx context.Context, db *sql.DB, fx *Fixture, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	err := pdb.RunInTx(ctx, db, nil, func(ctx context.Context, tx pdb.DBTX) error {
		for _, u := range fx.Users {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO users (user_id, name, email, role) VALUES (?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE name = VALUES(name), email = VALUES(email), role = VALUES(role)`,
				u.UserID, u.Name, u.Email, u.Role); err != nil {
				return fmt.Errorf("upsert user %s: %w", u.UserID, err)
			}
		}
		for _, e := range fx.Equipment {
			var logJSON any
			if len(e.MaintenanceLog) > 0 {
				b, err := jsonCodec.Marshal(e.MaintenanceLog)
				if err != nil {
					return err
				}
				logJSON = string(b)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO equipment (equipment_id, name, status, maintenance_log) VALUES (?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE name = VALUES(name), status = VALUES(status), maintenance_log = VALUES(maintenance_log)`,
				e.EquipmentID, e.Name, e.Status, logJSON); err != nil {
				return fmt.Errorf("upsert equipment %s: %w", e.EquipmentID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("seed applied", zap.Int("users", len(fx.Users)), zap.Int("equipment", len(fx.Equipment)))
	return nil
}
