package bus

import (
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"

	"escrow-backend/core/escrow"
	"escrow-backend/registry"

	"github.com/ethereum/go-ethereum/common"
)

type recorder struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	fail     bool
}

func (r *recorder) PublishJSON(subject string, v any) error {
	if r.fail {
		return errors.New("nats: connection closed")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, b)
	r.mu.Unlock()
	return nil
}

func TestForwardPublishesChanges(t *testing.T) {
	reg := registry.New(nil)
	rec := &recorder{}
	stop := Forward(reg, rec, "escrow.jobs", nil)

	escrowAddr := common.HexToAddress("0xa16E02E87b7454126E5E10d957A927A7F5B5d2be")
	job := escrow.Job{
		ID:           1,
		Client:       common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Freelancer:   common.HexToAddress("0x0987654321098765432109876543210987654321"),
		Escrow:       escrowAddr,
		Amount:       big.NewInt(1),
		MetadataHash: "bafyspec",
		State:        escrow.Funded{},
	}
	if _, err := reg.Upsert(job); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.Apply(escrowAddr, escrow.Accepted{}); err != nil {
		t.Fatal(err)
	}

	if len(rec.subjects) != 2 || rec.subjects[0] != "escrow.jobs.funded" || rec.subjects[1] != "escrow.jobs.accepted" {
		t.Fatalf("unexpected subjects %v", rec.subjects)
	}
	var ev struct {
		Type     string `json:"type"`
		Previous string `json:"previous_status"`
		Job      struct {
			ID     uint64 `json:"id"`
			Status string `json:"status"`
		} `json:"job"`
	}
	if err := json.Unmarshal(rec.payloads[1], &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "job_updated" || ev.Previous != "funded" || ev.Job.Status != "accepted" || ev.Job.ID != 1 {
		t.Errorf("unexpected payload %s", rec.payloads[1])
	}

	stop()
	if _, _, err := reg.Apply(escrowAddr, escrow.InProgress{}); err != nil {
		t.Fatal(err)
	}
	if len(rec.subjects) != 2 {
		t.Error("published after stop")
	}
}

func TestForwardSurvivesPublishFailure(t *testing.T) {
	reg := registry.New(nil)
	stop := Forward(reg, &recorder{fail: true}, "escrow.jobs", nil)
	defer stop()
	_, err := reg.Upsert(escrow.Job{ID: 1, Escrow: common.HexToAddress("0x01"), Amount: big.NewInt(1), State: escrow.Funded{}})
	if err != nil {
		t.Fatalf("publish failure leaked into registry: %v", err)
	}
}
