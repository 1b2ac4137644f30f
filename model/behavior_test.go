package model

import (
	"testing"

	api "github.com/carlos-burelo/cgsm-tabuladores/api/v1"
	"github.com/stretchr/testify/require"
)

func TestParseNodeBehavior(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"test review node":                testParseReview,
		"test signature promotion":        testParseSignaturePromotion,
		"test signature required count":   testParseSignatureRequired,
		"test auto node":                  testParseAuto,
		"test notification node":          testParseNotification,
		"test structural nodes are noop":  testParseStructural,
		"test missing assignees rejected": testParseMissingAssignees,
		"test unknown type rejected":      testParseUnknownType,
	} {
		t.Run(scenario, fn)
	}
}

func testParseReview(t *testing.T) {
	behavior, err := ParseNodeBehavior(FlowNode{
		Id:     "n1",
		Type:   NODE_TYPE_REVIEW,
		Config: map[string]any{"assignedTo": []any{"u1", "u2"}, "webhookUrl": "http://hooks.local/x"},
	})
	require.NoError(t, err)
	review, ok := behavior.(ReviewBehavior)
	require.True(t, ok)
	require.Equal(t, []string{"u1", "u2"}, review.Assignees)
	require.Equal(t, "http://hooks.local/x", review.WebhookUrl)
}

func testParseSignaturePromotion(t *testing.T) {
	behavior, err := ParseNodeBehavior(FlowNode{
		Id:   "n1",
		Type: NODE_TYPE_REVIEW,
		Config: map[string]any{
			"assignedTo":        []any{"u1"},
			"requiresSignature": true,
		},
	})
	require.NoError(t, err)
	_, ok := behavior.(SignatureBehavior)
	require.True(t, ok)
}

func testParseSignatureRequired(t *testing.T) {
	behavior, err := ParseNodeBehavior(FlowNode{
		Id:   "n1",
		Type: NODE_TYPE_SIGNATURE,
		Config: map[string]any{
			"assignedTo":         []any{"u1", "u2", "u3"},
			"requiredSignatures": float64(2),
		},
	})
	require.NoError(t, err)
	sig := behavior.(SignatureBehavior)
	require.Equal(t, 2, sig.RequiredSignatures)

	// out of range counts clamp to the assignee count
	behavior, err = ParseNodeBehavior(FlowNode{
		Id:   "n1",
		Type: NODE_TYPE_SIGNATURE,
		Config: map[string]any{
			"assignedTo":         []any{"u1", "u2"},
			"requiredSignatures": float64(7),
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, behavior.(SignatureBehavior).RequiredSignatures)
}

func testParseAuto(t *testing.T) {
	behavior, err := ParseNodeBehavior(FlowNode{
		Id:     "n1",
		Type:   NODE_TYPE_AUTO,
		Config: map[string]any{"webhookUrl": "http://hooks.local/auto"},
	})
	require.NoError(t, err)
	auto, ok := behavior.(AutoBehavior)
	require.True(t, ok)
	require.Equal(t, "http://hooks.local/auto", auto.WebhookUrl)
}

func testParseNotification(t *testing.T) {
	behavior, err := ParseNodeBehavior(FlowNode{
		Id:   "n1",
		Type: NODE_TYPE_NOTIFICATION,
		Config: map[string]any{
			"assignedTo": []any{"u1"},
			"message":    "listo",
		},
	})
	require.NoError(t, err)
	notify, ok := behavior.(NotificationBehavior)
	require.True(t, ok)
	require.Equal(t, []string{"u1"}, notify.Recipients)
	require.Equal(t, "listo", notify.Message)
}

func testParseStructural(t *testing.T) {
	for _, nodeType := range []NodeType{NODE_TYPE_START, NODE_TYPE_END, NODE_TYPE_DEFAULT} {
		behavior, err := ParseNodeBehavior(FlowNode{Id: "n1", Type: nodeType})
		require.NoError(t, err)
		_, ok := behavior.(NoopBehavior)
		require.True(t, ok)
	}
}

func testParseMissingAssignees(t *testing.T) {
	_, err := ParseNodeBehavior(FlowNode{
		Id:     "n1",
		Type:   NODE_TYPE_REVIEW,
		Config: map[string]any{},
	})
	require.Error(t, err)
	_, ok := err.(api.NoAssigneeError)
	require.True(t, ok)
}

func testParseUnknownType(t *testing.T) {
	_, err := ParseNodeBehavior(FlowNode{
		Id:     "n1",
		Type:   NODE_TYPE_REVIEW,
		Config: map[string]any{"type": "teleport"},
	})
	require.Error(t, err)
	_, ok := err.(api.ValidationError)
	require.True(t, ok)
}
