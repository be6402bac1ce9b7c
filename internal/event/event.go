// Package event decodes auto-scaling lifecycle notifications into the
// internal representation the handler works with.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Transition is the lifecycle transition carried by a notification.
type Transition string

const (
	TransitionLaunching   Transition = "autoscaling:EC2_INSTANCE_LAUNCHING"
	TransitionTerminating Transition = "autoscaling:EC2_INSTANCE_TERMINATING"

	// testNotification is sent by Auto Scaling when a notification target is
	// first attached to a group. It carries no lifecycle action.
	testNotification = "autoscaling:TEST_NOTIFICATION"
)

// Verdict is the result reported back for a pending lifecycle action.
type Verdict string

const (
	VerdictContinue Verdict = "CONTINUE"
	VerdictAbandon  Verdict = "ABANDON"
)

// ErrTestNotification marks a well-formed notification that carries no
// lifecycle action and should be acknowledged without further processing.
var ErrTestNotification = errors.New("test notification")

// LifecycleEvent is one launch or terminate transition of one instance,
// paused on a lifecycle hook and awaiting a verdict.
type LifecycleEvent struct {
	Fleet       string
	InstanceID  string
	Transition  Transition
	HookName    string
	ActionToken string
}

// payload is the lifecycle action message as Auto Scaling emits it.
type payload struct {
	AutoScalingGroupName string `json:"AutoScalingGroupName"`
	LifecycleHookName    string `json:"LifecycleHookName"`
	LifecycleActionToken string `json:"LifecycleActionToken"`
	EC2InstanceID        string `json:"EC2InstanceId"`
	LifecycleTransition  string `json:"LifecycleTransition"`
	Event                string `json:"Event"`
}

// Decode parses a notification body into a LifecycleEvent. It accepts the
// raw lifecycle payload, an SNS notification envelope (payload nested in the
// Message field), or an EventBridge envelope (payload nested in detail).
func Decode(data []byte) (LifecycleEvent, error) {
	var env struct {
		Message string          `json:"Message"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return LifecycleEvent{}, fmt.Errorf("event: decode notification: %w", err)
	}
	switch {
	case env.Message != "":
		return Decode([]byte(env.Message))
	case len(env.Detail) > 0:
		data = env.Detail
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return LifecycleEvent{}, fmt.Errorf("event: decode lifecycle payload: %w", err)
	}
	if p.Event == testNotification {
		return LifecycleEvent{}, ErrTestNotification
	}

	transition := Transition(p.LifecycleTransition)
	if transition != TransitionLaunching && transition != TransitionTerminating {
		return LifecycleEvent{}, fmt.Errorf("event: unsupported lifecycle transition %q", p.LifecycleTransition)
	}
	if p.AutoScalingGroupName == "" || p.EC2InstanceID == "" {
		return LifecycleEvent{}, fmt.Errorf("event: lifecycle payload missing group name or instance id")
	}

	return LifecycleEvent{
		Fleet:       p.AutoScalingGroupName,
		InstanceID:  p.EC2InstanceID,
		Transition:  transition,
		HookName:    p.LifecycleHookName,
		ActionToken: p.LifecycleActionToken,
	}, nil
}
