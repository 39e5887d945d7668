package credits

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is an immutable mapping from activity type to its price.
type Catalog struct {
	configs map[ActivityType]ActivityCostConfig
}

type catalogFile struct {
	Activities []catalogFileEntry `yaml:"activities"`
}

type catalogFileEntry struct {
	ActivityType         string  `yaml:"activity_type"`
	Cost                 float64 `yaml:"cost"`
	Category             string  `yaml:"category"`
	RequiresConfirmation bool    `yaml:"requires_confirmation"`
	Description          string  `yaml:"description"`
}

// DefaultCatalog returns the built-in price table.
func DefaultCatalog() Catalog {
	catalog, err := NewCatalog([]ActivityCostConfig{
		{ActivityType: ActivityAIChatMessage, Cost: 10, Category: CategoryCommunication, Description: "AI chat practice message"},
		{ActivityType: ActivityLearningUnit, Cost: 50, Category: CategoryLearning, Description: "Learning unit completion"},
		{ActivityType: ActivityLearningPathStart, Cost: 100, Category: CategoryLearning, RequiresConfirmation: true, Description: "Start a learning path"},
		{ActivityType: ActivityQuizAttempt, Cost: 30, Category: CategoryAssessment, Description: "Quiz attempt"},
		{ActivityType: ActivityExerciseCompletion, Cost: 20, Category: CategoryAssessment, Description: "Exercise completion"},
		{ActivityType: ActivityIndividualLesson, Cost: 300, Category: CategoryLesson, RequiresConfirmation: true, Description: "Individual lesson"},
		{ActivityType: ActivityGroupBeginner, Cost: 100, Category: CategoryLesson, Description: "Group lesson (beginner)"},
		{ActivityType: ActivityGroupIntermediate, Cost: 100, Category: CategoryLesson, Description: "Group lesson (intermediate)"},
		{ActivityType: ActivityGroupAdvanced, Cost: 100, Category: CategoryLesson, Description: "Group lesson (advanced)"},
		{ActivityType: ActivityOpenConversation, Cost: 100, Category: CategoryLesson, Description: "Open conversation session"},
	})
	if err != nil {
		panic(err)
	}
	return catalog
}

// NewCatalog validates a price table.
func NewCatalog(configs []ActivityCostConfig) (Catalog, error) {
	if len(configs) == 0 {
		return Catalog{}, fmt.Errorf("%w: no activities", ErrInvalidCatalog)
	}
	indexed := make(map[ActivityType]ActivityCostConfig, len(configs))
	for _, config := range configs {
		activityType := ActivityType(strings.TrimSpace(config.ActivityType.String()))
		if activityType == "" {
			return Catalog{}, fmt.Errorf("%w: empty activity type", ErrInvalidCatalog)
		}
		if _, exists := indexed[activityType]; exists {
			return Catalog{}, fmt.Errorf("%w: duplicate activity type %q", ErrInvalidCatalog, activityType)
		}
		if config.Cost <= 0 {
			return Catalog{}, fmt.Errorf("%w: activity %q must cost more than zero", ErrInvalidCatalog, activityType)
		}
		category, err := ParseActivityCategory(string(config.Category))
		if err != nil {
			return Catalog{}, fmt.Errorf("%w: activity %q: %v", ErrInvalidCatalog, activityType, err)
		}
		config.ActivityType = activityType
		config.Category = category
		indexed[activityType] = config
	}
	return Catalog{configs: indexed}, nil
}

// LoadCatalog parses a YAML price table:
//
//	activities:
//	  - activity_type: ai-chat-message
//	    cost: 0.1
//	    category: communication
func LoadCatalog(reader io.Reader) (Catalog, error) {
	var file catalogFile
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return Catalog{}, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	configs := make([]ActivityCostConfig, 0, len(file.Activities))
	for _, entry := range file.Activities {
		cost, err := CreditCentsFromCredits(entry.Cost)
		if err != nil {
			return Catalog{}, fmt.Errorf("%w: activity %q: %v", ErrInvalidCatalog, entry.ActivityType, err)
		}
		configs = append(configs, ActivityCostConfig{
			ActivityType:         ActivityType(entry.ActivityType),
			Cost:                 cost,
			Category:             ActivityCategory(entry.Category),
			RequiresConfirmation: entry.RequiresConfirmation,
			Description:          entry.Description,
		})
	}
	return NewCatalog(configs)
}

// Lookup returns the price for an activity type.
func (catalog Catalog) Lookup(activityType ActivityType) (ActivityCostConfig, bool) {
	config, ok := catalog.configs[activityType]
	return config, ok
}

// Types lists the known activity types in lexical order.
func (catalog Catalog) Types() []ActivityType {
	types := make([]ActivityType, 0, len(catalog.configs))
	for activityType := range catalog.configs {
		types = append(types, activityType)
	}
	sort.Slice(types, func(left, right int) bool { return types[left] < types[right] })
	return types
}

// Configs lists every entry ordered by activity type.
func (catalog Catalog) Configs() []ActivityCostConfig {
	types := catalog.Types()
	configs := make([]ActivityCostConfig, 0, len(types))
	for _, activityType := range types {
		configs = append(configs, catalog.configs[activityType])
	}
	return configs
}

func (catalog Catalog) empty() bool {
	return len(catalog.configs) == 0
}
