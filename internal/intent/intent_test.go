package intent

import (
	"context"
	"testing"
)

func TestRuleClassifier(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Forget my old address", "retract"},
		{"We are no longer renting the cabin", "retract"},
		{"Maybe we could move to Lisbon", "hypothetical"},
		{"What if we sold the car", "hypothetical"},
		{"We used to live in Austin", "historical"},
		{"Last year the tuition was lower", "historical"},
		{"We are planning a trip to Tokyo", "planning"},
		{"The dentist is scheduled for tomorrow", "planning"},
		{"My flight lands at 6pm", "assertive"},
		{"The rent is 2400 a month", "assertive"},
	}
	c := RuleClassifier{}
	for _, tc := range cases {
		result, err := c.Classify(context.Background(), "general", tc.text)
		if err != nil {
			t.Fatalf("Classify(%q): %v", tc.text, err)
		}
		if result.Intent != tc.want {
			t.Errorf("Classify(%q) = %s, want %s (%s)", tc.text, result.Intent, tc.want, result.Reason)
		}
	}
}

func TestRuleClassifierFirstMatchWins(t *testing.T) {
	// Retraction outranks the planning keyword in the same sentence
	result, err := RuleClassifier{}.Classify(context.Background(), "travel", "Forget the trip we were planning")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Intent != "retract" {
		t.Errorf("expected retract, got %s", result.Intent)
	}
}

func TestInferDomain(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Booked a flight and a hotel for the trip", "travel"},
		{"Parent teacher conference about homework", "school"},
		{"My daughter's birthday is in June", "family"},
		{"The mortgage payment went up", "financial"},
		{"Sprint review moved, new deadline Friday", "project"},
		{"My email is b@example.com", "profile"},
		{"It rained all day", "general"},
	}
	for _, tc := range cases {
		if got := InferDomain(tc.text); got != tc.want {
			t.Errorf("InferDomain(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestInferDomainMostHitsWins(t *testing.T) {
	// Two travel hits beat one financial hit
	if got := InferDomain("Pay for the flight before the trip"); got != "travel" {
		t.Errorf("got %s", got)
	}
}
