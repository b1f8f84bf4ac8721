// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// ROLE / TURN TESTS
// =============================================================================

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if Role("tool").Valid() {
		t.Error("tool is not a chat role here")
	}
}

func TestTurn_Preview(t *testing.T) {
	turn := NewUserTurn("héllo wörld, this is long")

	if got := turn.Preview(100); got != turn.Content {
		t.Errorf("Preview(100) = %q, want full content", got)
	}
	got := turn.Preview(8)
	if got != "héllo..." {
		t.Errorf("Preview(8) = %q, want %q", got, "héllo...")
	}
	if !strings.HasPrefix(turn.ID, "turn_") {
		t.Errorf("ID = %q, want turn_ prefix", turn.ID)
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_AppendPreservesOrder(t *testing.T) {
	conv := NewConversation()
	want := []string{"one", "two", "three", "four", "five"}
	for i, content := range want {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		conv.Append(NewTurn(role, content))
	}

	turns := conv.Turns()
	if len(turns) != len(want) {
		t.Fatalf("Len = %d, want %d", len(turns), len(want))
	}
	for i, turn := range turns {
		if turn.Content != want[i] {
			t.Errorf("turn[%d] = %q, want %q", i, turn.Content, want[i])
		}
	}
}

func TestConversation_TruncateToLast(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		keep    int
		want    []string
		dropped int
	}{
		{"keep fewer", 5, 2, []string{"t3", "t4"}, 3},
		{"keep all exactly", 3, 3, []string{"t0", "t1", "t2"}, 0},
		{"keep more than size", 2, 10, []string{"t0", "t1"}, 0},
		{"keep zero", 4, 0, []string{}, 4},
		{"negative keeps zero", 2, -1, []string{}, 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conv := NewConversation()
			for i := 0; i < tc.size; i++ {
				conv.Append(NewUserTurn(fmt.Sprintf("t%d", i)))
			}

			dropped := conv.TruncateToLast(tc.keep)
			if dropped != tc.dropped {
				t.Errorf("dropped = %d, want %d", dropped, tc.dropped)
			}

			turns := conv.Turns()
			if len(turns) != len(tc.want) {
				t.Fatalf("Len = %d, want %d", len(turns), len(tc.want))
			}
			for i := range turns {
				if turns[i].Content != tc.want[i] {
					t.Errorf("turn[%d] = %q, want %q", i, turns[i].Content, tc.want[i])
				}
			}
		})
	}
}

func TestConversation_TruncateDoesNotAffectEarlierSnapshot(t *testing.T) {
	conv := NewConversation()
	for i := 0; i < 4; i++ {
		conv.Append(NewUserTurn(fmt.Sprintf("t%d", i)))
	}
	before := conv.Turns()

	conv.TruncateToLast(1)
	conv.Append(NewUserTurn("new"))

	if before[0].Content != "t0" || len(before) != 4 {
		t.Errorf("earlier snapshot changed: %v", before)
	}
}

func TestConversation_Clear(t *testing.T) {
	conv := NewConversation()
	if !conv.IsEmpty() {
		t.Error("new conversation should be empty")
	}

	conv.Append(NewUserTurn("a"))
	conv.Append(NewAssistantTurn("b"))
	if conv.IsEmpty() || conv.Len() != 2 {
		t.Errorf("Len = %d, want 2", conv.Len())
	}

	conv.Clear()
	if !conv.IsEmpty() {
		t.Errorf("Len after Clear = %d, want 0", conv.Len())
	}
}

// =============================================================================
// RESULTS TESTS
// =============================================================================

func TestResults_ReplaceSwapsWholeValue(t *testing.T) {
	r := NewResults[*QuoteSnapshot](0)

	r.Replace("AAPL", &QuoteSnapshot{Symbol: "AAPL", Price: 1, High: 1, Low: 1})
	r.Replace("AAPL", &QuoteSnapshot{Symbol: "AAPL", Price: 2, High: 2, Low: 2})

	got, ok := r.Get("AAPL")
	if !ok {
		t.Fatal("AAPL missing")
	}
	if got.Price != 2 || got.High != 2 || got.Low != 2 {
		t.Errorf("Get = %+v, want all fields from second replace", got)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

// Run with: go test -race ./internal/model/
func TestResults_ConcurrentReplaceNeverMixes(t *testing.T) {
	r := NewResults[*QuoteSnapshot](0)
	r1 := &QuoteSnapshot{Symbol: "AAPL", Price: 1, Change: 1, High: 1, Low: 1}
	r2 := &QuoteSnapshot{Symbol: "AAPL", Price: 2, Change: 2, High: 2, Low: 2}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			if i%2 == 0 {
				r.Replace("AAPL", r1)
			} else {
				r.Replace("AAPL", r2)
			}
		}
		close(stop)
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				q, ok := r.Get("AAPL")
				if !ok {
					continue
				}
				if q.Price != q.Change || q.Price != q.High || q.Price != q.Low {
					t.Errorf("observed mixed snapshot %+v", q)
					return
				}
			}
		}()
	}

	wg.Wait()
}

func TestResults_CapacityEvictsOldest(t *testing.T) {
	r := NewResults[string](2)
	r.Replace("a", "1")
	r.Replace("b", "2")
	r.Replace("a", "1b") // refresh moves a to newest
	r.Replace("c", "3")

	if _, ok := r.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("Keys = %v, want [a c]", keys)
	}
}

func TestResults_Clear(t *testing.T) {
	r := NewResults[int](0)
	r.Replace("x", 1)
	r.Replace("y", 2)

	if all := r.All(); len(all) != 2 || all["y"] != 2 {
		t.Errorf("All = %v", all)
	}

	r.Clear()
	if r.Len() != 0 || len(r.Keys()) != 0 {
		t.Error("Clear should remove every key")
	}
}

// =============================================================================
// RECORD TESTS
// =============================================================================

func TestVideo_PreferredFile(t *testing.T) {
	v := Video{Files: []VideoFile{
		{Quality: "sd", Link: "sd.mp4"},
		{Quality: "hd", Link: "hd.mp4"},
	}}
	f, ok := v.PreferredFile()
	if !ok || f.Link != "hd.mp4" {
		t.Errorf("PreferredFile = %+v, want hd.mp4", f)
	}

	v = Video{Files: []VideoFile{{Quality: "sd", Link: "sd.mp4"}}}
	if f, _ := v.PreferredFile(); f.Link != "sd.mp4" {
		t.Errorf("PreferredFile fallback = %q, want sd.mp4", f.Link)
	}

	if _, ok := (Video{}).PreferredFile(); ok {
		t.Error("video without files should report false")
	}
}

func TestQuoteSnapshot_History(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q := &QuoteSnapshot{History: []PricePoint{
		{Time: base.AddDate(0, 0, 2), Price: 12},
		{Time: base, Price: 10},
		{Time: base.AddDate(0, 0, 1), Price: 9},
	}}

	q.SortHistory()
	if !q.History[0].Time.Equal(base) || q.History[2].Price != 12 {
		t.Errorf("SortHistory order wrong: %+v", q.History)
	}

	low, high, ok := q.HistoryRange()
	if !ok || low != 9 || high != 12 {
		t.Errorf("HistoryRange = %v, %v, %v", low, high, ok)
	}
}
