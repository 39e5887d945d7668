package credits

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultCatalogPricesEveryActivity(test *testing.T) {
	test.Parallel()
	catalog := DefaultCatalog()
	expected := map[ActivityType]CreditCents{
		ActivityAIChatMessage:      10,
		ActivityLearningUnit:       50,
		ActivityLearningPathStart:  100,
		ActivityQuizAttempt:        30,
		ActivityExerciseCompletion: 20,
		ActivityIndividualLesson:   300,
		ActivityGroupBeginner:      100,
		ActivityGroupIntermediate:  100,
		ActivityGroupAdvanced:      100,
		ActivityOpenConversation:   100,
	}
	if len(catalog.Types()) != len(expected) {
		test.Fatalf("expected %d activities, got %v", len(expected), catalog.Types())
	}
	for activityType, cost := range expected {
		config, ok := catalog.Lookup(activityType)
		if !ok {
			test.Fatalf("missing activity %q", activityType)
		}
		if config.Cost != cost {
			test.Fatalf("activity %q: expected %s, got %s", activityType, cost, config.Cost)
		}
	}
	individual, _ := catalog.Lookup(ActivityIndividualLesson)
	if !individual.RequiresConfirmation || individual.Category != CategoryLesson {
		test.Fatalf("unexpected individual lesson config %+v", individual)
	}
}

func TestNewCatalogValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		configs []ActivityCostConfig
	}{
		{name: "empty"},
		{name: "blank type", configs: []ActivityCostConfig{{ActivityType: " ", Cost: 10, Category: CategoryLearning}}},
		{name: "zero cost", configs: []ActivityCostConfig{{ActivityType: "free", Cost: 0, Category: CategoryLearning}}},
		{name: "unknown category", configs: []ActivityCostConfig{{ActivityType: "dance", Cost: 10, Category: "sports"}}},
		{
			name: "duplicate",
			configs: []ActivityCostConfig{
				{ActivityType: "quiz", Cost: 10, Category: CategoryAssessment},
				{ActivityType: "quiz", Cost: 20, Category: CategoryAssessment},
			},
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := NewCatalog(testCase.configs); !errors.Is(err, ErrInvalidCatalog) {
				test.Fatalf("expected ErrInvalidCatalog, got %v", err)
			}
		})
	}
}

func TestLoadCatalog(test *testing.T) {
	test.Parallel()
	document := `
activities:
  - activity_type: ai-chat-message
    cost: 0.15
    category: communication
    description: Premium chat
  - activity_type: individual
    cost: 4
    category: lesson
    requires_confirmation: true
`
	catalog, err := LoadCatalog(strings.NewReader(document))
	if err != nil {
		test.Fatalf("load catalog: %v", err)
	}
	chat, ok := catalog.Lookup(ActivityAIChatMessage)
	if !ok || chat.Cost != 15 || chat.Description != "Premium chat" {
		test.Fatalf("unexpected chat config %+v", chat)
	}
	lesson, ok := catalog.Lookup(ActivityIndividualLesson)
	if !ok || lesson.Cost != 400 || !lesson.RequiresConfirmation {
		test.Fatalf("unexpected lesson config %+v", lesson)
	}
	if _, ok := catalog.Lookup(ActivityLearningUnit); ok {
		test.Fatalf("a loaded catalog replaces the defaults")
	}
}

func TestLoadCatalogRejectsUnknownFields(test *testing.T) {
	test.Parallel()
	document := `
activities:
  - activity_type: quiz-attempt
    cost: 0.3
    category: assessment
    price: 12
`
	if _, err := LoadCatalog(strings.NewReader(document)); !errors.Is(err, ErrInvalidCatalog) {
		test.Fatalf("expected ErrInvalidCatalog, got %v", err)
	}
}

func TestCatalogConfigsAreOrdered(test *testing.T) {
	test.Parallel()
	configs := DefaultCatalog().Configs()
	for index := 1; index < len(configs); index++ {
		if configs[index-1].ActivityType >= configs[index].ActivityType {
			test.Fatalf("configs out of order at %d: %q >= %q", index, configs[index-1].ActivityType, configs[index].ActivityType)
		}
	}
}
