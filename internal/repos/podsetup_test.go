package repos

import (
	"testing"

	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/repos/testutil"
)

func TestPodSetupRepo_Lifecycle(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := newJobDbc(tx)
	repo := NewPodSetupRepo(gdb, testutil.Logger(t))
	nodeRepo := NewNodeRepo(gdb, testutil.Logger(t))

	state, err := repo.Create(dbc, "gpu-box-9")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if state.Phase != domain.PodSetupPhasePending {
		t.Fatalf("expected pending phase, got %s", state.Phase)
	}

	if err := repo.UpdateProgress(dbc, state.ID, domain.PodSetupPhaseProvisioning, 25, "booting instance"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	got, err := repo.GetByID(dbc, state.ID)
	if err != nil || got.Phase != domain.PodSetupPhaseProvisioning || got.Progress != 25 {
		t.Fatalf("after provisioning: phase=%s progress=%d err=%v", got.Phase, got.Progress, err)
	}

	node, _, err := nodeRepo.Register(dbc, "gpu-box-9", "http://10.0.0.9:8080", "", "", 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := repo.AttachWorkerNode(dbc, state.ID, node.ID); err != nil {
		t.Fatalf("AttachWorkerNode: %v", err)
	}
	got, err = repo.GetByID(dbc, state.ID)
	if err != nil || got.Phase != domain.PodSetupPhaseReady || got.WorkerNodeID == nil || *got.WorkerNodeID != node.ID {
		t.Fatalf("after attach: phase=%s worker_node=%v err=%v", got.Phase, got.WorkerNodeID, err)
	}
}
