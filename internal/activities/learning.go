package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/inglespareto/credits/pkg/credits"
)

// ProgressKind names a learning milestone.
type ProgressKind string

const (
	ProgressUnitCompleted     ProgressKind = "unit_completed"
	ProgressPathStarted       ProgressKind = "path_started"
	ProgressQuizAttempted     ProgressKind = "quiz_attempted"
	ProgressExerciseCompleted ProgressKind = "exercise_completed"

	maxScore = 100
)

// ProgressEvent is a billed learning milestone.
type ProgressEvent struct {
	UserID     credits.UserID
	Kind       ProgressKind
	ItemID     string
	ActivityID string
	Score      int
	Passed     bool
	OccurredAt time.Time
}

// ProgressRecorder persists learning milestones.
type ProgressRecorder interface {
	RecordProgress(ctx context.Context, event ProgressEvent) error
}

// PathPlan describes the units and quizzes of a learning path for up-front pricing.
type PathPlan struct {
	PathID  string
	Units   int
	Quizzes int
}

// LearningService bills the learning track.
type LearningService struct {
	credits  *credits.Service
	recorder ProgressRecorder
	nowFn    func() time.Time
}

// NewLearningService wires a LearningService.
func NewLearningService(creditService *credits.Service, recorder ProgressRecorder) (*LearningService, error) {
	if creditService == nil || recorder == nil {
		return nil, fmt.Errorf("%w: learning service needs credits and a progress recorder", ErrMissingDependency)
	}
	return &LearningService{credits: creditService, recorder: recorder, nowFn: systemClock}, nil
}

// CompleteUnit records a finished unit.
func (service *LearningService) CompleteUnit(ctx context.Context, userID credits.UserID, unitID string, score int) credits.Result[ProgressEvent] {
	if err := validateScore(score); err != nil {
		return failed[ProgressEvent](err)
	}
	return service.record(ctx, userID, credits.ActivityLearningUnit, ProgressEvent{Kind: ProgressUnitCompleted, ItemID: unitID, Score: score, Passed: true})
}

// StartPath enrolls the student in a learning path.
func (service *LearningService) StartPath(ctx context.Context, userID credits.UserID, pathID string) credits.Result[ProgressEvent] {
	return service.record(ctx, userID, credits.ActivityLearningPathStart, ProgressEvent{Kind: ProgressPathStarted, ItemID: pathID})
}

// RecordQuizAttempt bills a quiz attempt whether or not it passed.
func (service *LearningService) RecordQuizAttempt(ctx context.Context, userID credits.UserID, quizID string, score int, passed bool) credits.Result[ProgressEvent] {
	if err := validateScore(score); err != nil {
		return failed[ProgressEvent](err)
	}
	return service.record(ctx, userID, credits.ActivityQuizAttempt, ProgressEvent{Kind: ProgressQuizAttempted, ItemID: quizID, Score: score, Passed: passed})
}

// CompleteExercise records a finished exercise.
func (service *LearningService) CompleteExercise(ctx context.Context, userID credits.UserID, exerciseID string) credits.Result[ProgressEvent] {
	return service.record(ctx, userID, credits.ActivityExerciseCompletion, ProgressEvent{Kind: ProgressExerciseCompleted, ItemID: exerciseID, Passed: true})
}

// EstimatePath prices a whole path before the student starts it.
func (service *LearningService) EstimatePath(plan PathPlan) (credits.CostEstimate, error) {
	if plan.Units < 0 || plan.Quizzes < 0 {
		return credits.CostEstimate{}, fmt.Errorf("%w: negative unit or quiz count", ErrInvalidRequest)
	}
	return service.credits.EstimateActivityCost(
		[]credits.ActivityType{credits.ActivityLearningPathStart, credits.ActivityLearningUnit, credits.ActivityQuizAttempt},
		[]int{1, plan.Units, plan.Quizzes},
	)
}

func (service *LearningService) record(ctx context.Context, userID credits.UserID, activityType credits.ActivityType, event ProgressEvent) credits.Result[ProgressEvent] {
	event.ItemID = strings.TrimSpace(event.ItemID)
	if event.ItemID == "" {
		return invalid[ProgressEvent]("%s needs an item id", event.Kind)
	}
	event.UserID = userID
	return credits.ExecuteActivity(ctx, service.credits, userID, activityType, func(ctx context.Context, activityID string) (ProgressEvent, error) {
		recorded := event
		recorded.ActivityID = activityID
		recorded.OccurredAt = service.nowFn()
		if err := service.recorder.RecordProgress(ctx, recorded); err != nil {
			return ProgressEvent{}, err
		}
		return recorded, nil
	}, credits.ExecuteOptions{Description: fmt.Sprintf("%s %s", event.Kind, event.ItemID)})
}

func validateScore(score int) error {
	if score < 0 || score > maxScore {
		return fmt.Errorf("%w: score %d outside 0..%d", ErrInvalidRequest, score, maxScore)
	}
	return nil
}
