package memory

import (
	"context"
	"fmt"
	"testing"
)

func TestShortTerm_DiscardsOldest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := NewShortTerm(3)
	for i := range 5 {
		if _, err := st.Add(ctx, []string{fmt.Sprintf("turn %d", i)}, nil); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if st.Len() != 3 {
		t.Fatalf("Len = %d, want 3", st.Len())
	}

	all, _ := st.GetAll(ctx, ListOptions{})
	if all[0].Text != "turn 2" || all[2].Text != "turn 4" {
		t.Errorf("ring = %q..%q, want turn 2..turn 4", all[0].Text, all[2].Text)
	}
}

func TestShortTerm_QueryReturnsMostRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := NewShortTerm(0)
	if st.Capacity() != DefaultShortTermCapacity {
		t.Fatalf("Capacity = %d, want %d", st.Capacity(), DefaultShortTermCapacity)
	}
	_, _ = st.Add(ctx, []string{"a", "b", "c"}, nil)

	got, err := st.Query(ctx, "ignored", QueryOptions{K: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0].Record.Text != "c" || got[1].Record.Text != "b" {
		t.Errorf("Query = %+v, want c then b", got)
	}
}

func TestShortTerm_DeleteAndIsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := NewShortTerm(5)
	if empty, _ := st.IsEmpty(ctx); !empty {
		t.Fatal("new ring should be empty")
	}
	ids, _ := st.Add(ctx, []string{"x", "y"}, []Metadata{{MetaType: TypeConversation}, nil})
	if err := st.Delete(ctx, ids[:1]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	all, _ := st.GetAll(ctx, ListOptions{})
	if len(all) != 1 || all[0].Text != "y" {
		t.Fatalf("after delete got %+v", all)
	}
	if all[0].Metadata.Type() != TypeShortTerm {
		t.Errorf("default type = %q, want %q", all[0].Metadata.Type(), TypeShortTerm)
	}
	_ = st.Delete(ctx, ids[1:])
	if empty, _ := st.IsEmpty(ctx); !empty {
		t.Error("ring should be empty after deleting every record")
	}
}
