package di

import "testing"

type fakeService struct{ name string }

func TestResolve(t *testing.T) {
	c := NewContainer()
	c.Register("svc", &fakeService{name: "a"})

	svc, err := Resolve[*fakeService](c, "svc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if svc.name != "a" {
		t.Fatalf("got %q", svc.name)
	}

	if _, err := Resolve[*fakeService](c, "missing"); err == nil {
		t.Fatal("expected error for missing service")
	}
	if _, err := Resolve[string](c, "svc"); err == nil {
		t.Fatal("expected error for wrong type")
	}
}

func TestGetNamesSorted(t *testing.T) {
	c := NewContainer()
	c.Register("b", 1)
	c.Register("a", 2)
	names := c.GetNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}
	c.Clear()
	if c.Has("a") {
		t.Fatal("Clear should remove all services")
	}
}
