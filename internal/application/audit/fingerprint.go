package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// canonicalRecord fixes the field order and encoding hashed into a fingerprint.
// It only contains structs and slices so encoding/json output is deterministic.
type canonicalRecord struct {
	ID            string              `json:"id"`
	WorkflowID    string              `json:"workflow_id"`
	Sequence      int64               `json:"sequence"`
	Level         int                 `json:"level"`
	ActorID       string              `json:"actor_id"`
	ActorRoles    []string            `json:"actor_roles"`
	Kind          string              `json:"kind"`
	Justification string              `json:"justification"`
	DelegateTo    string              `json:"delegate_to"`
	Origin        entity.ActionOrigin `json:"origin"`
	Priority      string              `json:"priority"`
	Outcome       string              `json:"outcome"`
	CreatedAt     string              `json:"created_at"`
}

// Fingerprint hashes the previous fingerprint together with the record's content
func Fingerprint(prev string, rec *entity.ActionRecord) (string, error) {
	roles := rec.ActorRoles
	if roles == nil {
		roles = []string{}
	}
	body, err := json.Marshal(canonicalRecord{
		ID:            rec.ID,
		WorkflowID:    rec.WorkflowID,
		Sequence:      rec.Sequence,
		Level:         rec.Level,
		ActorID:       rec.ActorID,
		ActorRoles:    roles,
		Kind:          string(rec.Kind),
		Justification: rec.Justification,
		DelegateTo:    rec.DelegateTo,
		Origin:        rec.Origin,
		Priority:      string(rec.Priority),
		Outcome:       string(rec.Outcome),
		CreatedAt:     rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode action record: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyChain walks records in sequence order and checks every link.
// head is the fingerprint the workflow row expects at the tip.
func verifyChain(records []*entity.ActionRecord, head string) error {
	prev := ""
	for i, rec := range records {
		if rec.Sequence != int64(i+1) {
			return fmt.Errorf("record %s has sequence %d, expected %d", rec.ID, rec.Sequence, i+1)
		}
		if rec.PrevFingerprint != prev {
			return fmt.Errorf("record %s links to %q, expected %q", rec.ID, rec.PrevFingerprint, prev)
		}
		fp, err := Fingerprint(prev, rec)
		if err != nil {
			return err
		}
		if fp != rec.Fingerprint {
			return fmt.Errorf("record %s fingerprint mismatch", rec.ID)
		}
		prev = fp
	}
	if prev != head {
		return fmt.Errorf("chain tip %q does not match workflow head %q", prev, head)
	}
	return nil
}
