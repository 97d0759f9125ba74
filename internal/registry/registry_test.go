package registry

import (
	"testing"

	"github.com/orzoj-cluster/judged/internal/model"
)

func TestInsertRejectsDuplicateID(t *testing.T) {
	r := New()
	j1 := model.NewJudge("j1")
	j2 := model.NewJudge("j1")

	if !r.Insert(j1) {
		t.Fatal("first insert of j1 should succeed")
	}
	if r.Insert(j2) {
		t.Fatal("second insert of j1 should fail")
	}
	if len(r.Snapshot()) != 1 {
		t.Fatalf("registry has %d entries, want 1", len(r.Snapshot()))
	}
}

func TestRemoveThenReinsert(t *testing.T) {
	r := New()
	j := model.NewJudge("j1")
	r.Insert(j)
	r.Remove("j1")

	if r.Contains("j1") {
		t.Fatal("j1 should be absent after Remove")
	}
	if !r.Insert(model.NewJudge("j1")) {
		t.Fatal("re-inserting j1 after removal should succeed")
	}
}

func TestWithLockSeesLiveMap(t *testing.T) {
	r := New()
	r.Insert(model.NewJudge("j1"))

	var sawJ1 bool
	r.WithLock(func(byID map[string]*model.Judge) {
		_, sawJ1 = byID["j1"]
	})
	if !sawJ1 {
		t.Fatal("WithLock callback did not see j1")
	}

	r.Remove("j1")

	var sawJ1AfterRemove bool
	r.WithLock(func(byID map[string]*model.Judge) {
		_, sawJ1AfterRemove = byID["j1"]
	})
	if sawJ1AfterRemove {
		t.Fatal("WithLock callback saw j1 after Remove")
	}
}
