package flow

import (
	"time"

	api "github.com/carlos-burelo/cgsm-tabuladores/api/v1"
	"github.com/carlos-burelo/cgsm-tabuladores/audit"
	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/google/uuid"
	c "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// definitionCacheTTL bounds how long a replica can serve a graph that
// another process has since replaced.
const definitionCacheTTL = 5 * time.Minute

// Repository stores and validates flow graph definitions. A flow's
// node/edge set is immutable while instances of it are active, updates
// replace the whole set and increment the version.
type Repository struct {
	storage   persistence.FlowStorage
	instances persistence.InstanceStorage
	auditor   *audit.Service
	cache     *c.Cache
}

func NewRepository(storage persistence.FlowStorage, instances persistence.InstanceStorage, auditor *audit.Service) *Repository {
	return &Repository{
		storage:   storage,
		instances: instances,
		auditor:   auditor,
		cache:     c.New(definitionCacheTTL, 10*time.Minute),
	}
}

func (r *Repository) CreateFlow(def model.FlowDefinition) (string, error) {
	flowId := uuid.New().String()
	if err := validateDefinition(flowId, &def); err != nil {
		return "", err
	}
	now := time.Now()
	flow := model.Flow{
		Id:           flowId,
		Name:         def.Name,
		Description:  def.Description,
		DepartmentId: def.DepartmentId,
		Version:      1,
		IsActive:     true,
		Nodes:        def.Nodes,
		Edges:        def.Edges,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.storage.SaveFlow(flow); err != nil {
		return "", err
	}
	if err := r.auditor.Log("Flow", flow.Id, "create", "", map[string]any{"name": flow.Name}); err != nil {
		return "", err
	}
	r.cache.Set(flow.Id, &flow, c.DefaultExpiration)
	logger.Info("flow created", zap.String("flowId", flow.Id), zap.String("name", flow.Name))
	return flow.Id, nil
}

// UpdateFlow replaces the node/edge set. Rejected with ConflictError while
// any instance of the flow is pending or in progress.
func (r *Repository) UpdateFlow(flowId string, def model.FlowDefinition) error {
	flow, err := r.GetFlow(flowId)
	if err != nil {
		return err
	}
	active, err := r.instances.CountActiveInstances(flowId)
	if err != nil {
		return err
	}
	if active > 0 {
		return api.ConflictError{FlowId: flowId, ActiveInstances: active}
	}
	if err := validateDefinition(flowId, &def); err != nil {
		return err
	}
	updated := *flow
	updated.Version = flow.Version + 1
	updated.Nodes = def.Nodes
	updated.Edges = def.Edges
	if def.Name != "" {
		updated.Name = def.Name
		updated.Description = def.Description
	}
	updated.UpdatedAt = time.Now()
	if err := r.storage.ReplaceDefinition(updated); err != nil {
		return err
	}
	if err := r.auditor.Log("Flow", flowId, "update", "", map[string]any{"newVersion": updated.Version}); err != nil {
		return err
	}
	r.cache.Set(flowId, &updated, c.DefaultExpiration)
	logger.Info("flow updated", zap.String("flowId", flowId), zap.Int("version", updated.Version))
	return nil
}

func (r *Repository) GetFlow(flowId string) (*model.Flow, error) {
	if cached, found := r.cache.Get(flowId); found {
		return cached.(*model.Flow), nil
	}
	flow, err := r.storage.GetFlow(flowId)
	if err != nil {
		return nil, err
	}
	// behaviors are not serialized, re-parse after a cold read
	if err := parseBehaviors(flow); err != nil {
		return nil, err
	}
	r.cache.Set(flowId, flow, c.DefaultExpiration)
	return flow, nil
}

func (r *Repository) ListFlowsByDepartment(departmentId string) ([]model.Flow, error) {
	return r.storage.ListFlowsByDepartment(departmentId)
}

// validateDefinition checks the graph shape and parses every node config
// into its behavior variant, so malformed configs never reach execution.
func validateDefinition(flowId string, def *model.FlowDefinition) error {
	if len(def.Nodes) == 0 {
		return api.ValidationError{Message: "flow definition has no nodes"}
	}
	nodeIds := make(map[string]bool, len(def.Nodes))
	hasStart := false
	for i := range def.Nodes {
		node := &def.Nodes[i]
		if nodeIds[node.Id] {
			return api.ValidationError{Message: "duplicate node id " + node.Id}
		}
		nodeIds[node.Id] = true
		if node.IsStart {
			hasStart = true
		}
		behavior, err := model.ParseNodeBehavior(*node)
		if err != nil {
			return err
		}
		node.Behavior = behavior
	}
	if !hasStart {
		return api.NoStartNodeError{FlowId: flowId}
	}
	for _, edge := range def.Edges {
		if !nodeIds[edge.SourceId] {
			return api.ValidationError{Message: "edge " + edge.Id + " references unknown source node " + edge.SourceId}
		}
		if !nodeIds[edge.TargetId] {
			return api.ValidationError{Message: "edge " + edge.Id + " references unknown target node " + edge.TargetId}
		}
	}
	return nil
}

func parseBehaviors(flow *model.Flow) error {
	for i := range flow.Nodes {
		behavior, err := model.ParseNodeBehavior(flow.Nodes[i])
		if err != nil {
			return err
		}
		flow.Nodes[i].Behavior = behavior
	}
	return nil
}
