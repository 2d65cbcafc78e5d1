package bloomset

import "testing"

func TestSet_TestReportsAbsentBeforeAdd(t *testing.T) {
	s := New(1000, 0.01)
	if s.Test("cust_1") {
		t.Error("expected absent before Add")
	}
}

func TestSet_TestReportsPresentAfterAdd(t *testing.T) {
	s := New(1000, 0.01)
	s.Add("cust_1")
	if !s.Test("cust_1") {
		t.Error("expected present after Add")
	}
}

func TestSet_ClearResetsState(t *testing.T) {
	s := New(1000, 0.01)
	s.Add("cust_1")
	s.Clear()
	if s.Test("cust_1") {
		t.Error("expected absent after Clear")
	}
}
