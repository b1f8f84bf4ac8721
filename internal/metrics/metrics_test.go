// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveProviderCall(t *testing.T) {
	before := testutil.ToFloat64(ProviderCalls.WithLabelValues("news", "http_status"))

	ObserveProviderCall("news", "http_status", 150*time.Millisecond)

	after := testutil.ToFloat64(ProviderCalls.WithLabelValues("news", "http_status"))
	if after-before != 1 {
		t.Errorf("provider call counter delta = %v, want 1", after-before)
	}
}

func TestRejectAction(t *testing.T) {
	before := testutil.ToFloat64(ActionsRejected.WithLabelValues("stocks", "missing_credential"))
	RejectAction("stocks", "missing_credential")
	after := testutil.ToFloat64(ActionsRejected.WithLabelValues("stocks", "missing_credential"))
	if after-before != 1 {
		t.Errorf("rejected counter delta = %v, want 1", after-before)
	}
}
