// ABOUTME: Tests for the clock filter
// ABOUTME: Covers round trip math, outlier rejection, drift tracking, and reset
package sync

import "testing"

func TestFilterFirstSampleS2Scenario(t *testing.T) {
	f := NewFilter()
	f.Update(1_000_000, 1_500_200, 1_500_400, 1_000_500)

	snap := f.Snapshot()
	if snap.Offset != 500_050 {
		t.Errorf("expected offset 500050, got %d", snap.Offset)
	}
	if snap.SampleCount != 1 {
		t.Errorf("expected sample count 1, got %d", snap.SampleCount)
	}
	if snap.Quality != QualityGood {
		t.Errorf("expected QualityGood, got %v", snap.Quality)
	}
}

func TestFilterSecondSampleEstablishesDrift(t *testing.T) {
	f := NewFilter()
	f.Update(1_000_000, 1_500_200, 1_500_400, 1_000_500)
	f.Update(2_000_000, 2_500_300, 2_500_500, 2_000_600)

	snap := f.Snapshot()
	if snap.SampleCount != 2 {
		t.Errorf("expected sample count 2, got %d", snap.SampleCount)
	}
	if snap.Drift == 0 {
		t.Error("expected nonzero drift after second sample with shifted offset")
	}
}

func TestFilterRejectsHighDelay(t *testing.T) {
	f := NewFilter()
	f.Update(1_000_000, 1_500_200, 1_500_400, 1_000_500)
	before := f.Snapshot()

	// delay = (t3-t0) - (t2-t1) = 300_000 far above the 100ms ceiling.
	f.Update(2_000_000, 2_500_000, 2_500_100, 2_300_100)
	after := f.Snapshot()

	if after.SampleCount != before.SampleCount {
		t.Errorf("expected rejected sample to leave sample count at %d, got %d", before.SampleCount, after.SampleCount)
	}
	if after.Offset != before.Offset {
		t.Errorf("expected rejected sample to leave offset at %d, got %d", before.Offset, after.Offset)
	}
}

func TestFilterRejectsLargeResidualAfterConvergence(t *testing.T) {
	f := NewFilter()
	base := int64(1_000_000)
	for i := 0; i < 5; i++ {
		t0 := base + int64(i)*1_000_000
		t1 := t0 + 500_000
		t2 := t1 + 200
		t3 := t0 + 1000
		f.Update(t0, t1, t2, t3)
	}
	converged := f.Snapshot()

	// A sample with an implausible 80ms jump in offset should be rejected
	// as a residual outlier rather than yanking the estimate.
	t0 := base + 6_000_000
	t1 := t0 + 580_000
	t2 := t1 + 200
	t3 := t0 + 1000
	f.Update(t0, t1, t2, t3)
	after := f.Snapshot()

	if after.Offset != converged.Offset {
		t.Errorf("expected large-residual sample rejected, offset moved from %d to %d", converged.Offset, after.Offset)
	}
}

func TestFilterResetClearsState(t *testing.T) {
	f := NewFilter()
	f.Update(1_000_000, 1_500_200, 1_500_400, 1_000_500)
	if f.Snapshot().SampleCount == 0 {
		t.Fatal("expected sample recorded before reset")
	}

	f.Reset()
	snap := f.Snapshot()
	if snap.SampleCount != 0 || snap.Quality != QualityLost {
		t.Errorf("expected cleared snapshot after reset, got %+v", snap)
	}

	// The next Update is treated as the first sample again.
	f.Update(1_000_000, 1_500_200, 1_500_400, 1_000_500)
	if f.Snapshot().Offset != 500_050 {
		t.Errorf("expected first-sample offset after reset, got %d", f.Snapshot().Offset)
	}
}

func TestFilterConvergenceWithinBound(t *testing.T) {
	// Synthetic source: true offset 2000us, drift 0, bounded noise +-50us.
	const trueOffset = int64(2000)
	f := NewFilter()
	base := int64(10_000_000)
	noise := []int64{10, -20, 30, -10, 5, -5, 15, -15, 0, 20}
	for i, n := range noise {
		t0 := base + int64(i)*1_000_000
		t1 := t0 + trueOffset + n
		t2 := t1 + 100
		t3 := t0 + 200
		f.Update(t0, t1, t2, t3)
	}

	snap := f.Snapshot()
	diff := snap.Offset - trueOffset
	if diff < -100 || diff > 100 {
		t.Errorf("expected convergence within 100us of true offset %d, got offset %d (diff %d)", trueOffset, snap.Offset, diff)
	}
}

func TestSnapshotRemoteToLocalRoundTrip(t *testing.T) {
	snap := Snapshot{Offset: 500_050, Drift: 0, Basis: 1_000_500, SampleCount: 1}
	remote := snap.LocalToRemote(1_000_500)
	local := snap.RemoteToLocal(remote)
	if local != 1_000_500 {
		t.Errorf("expected round trip to recover 1000500, got %d", local)
	}
}

func TestPollIntervalDecaysAfterSettling(t *testing.T) {
	f := NewFilter()
	base := int64(1_000_000)
	for i := 0; i < settledDriftSamples; i++ {
		t0 := base + int64(i)*1_000_000
		t1 := t0 + 500_000
		t2 := t1 + 100
		t3 := t0 + 200
		f.Update(t0, t1, t2, t3)
	}
	if got := f.PollInterval(); got.Seconds() != 10 {
		t.Errorf("expected settled poll interval of 10s, got %v", got)
	}
}
