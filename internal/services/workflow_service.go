package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"nodeflow/internal/database"
	"nodeflow/internal/execution"
	"nodeflow/internal/graph"
	"nodeflow/internal/models"
)

// ErrWorkflowNotFound is returned for lookups of unknown workflow ids.
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowService manages stored workflow definitions and their node/edge
// structure. All mutations validate against the node registry before they
// are persisted.
type WorkflowService struct {
	db       *database.DB
	registry *execution.Registry
}

func NewWorkflowService(db *database.DB, registry *execution.Registry) *WorkflowService {
	return &WorkflowService{db: db, registry: registry}
}

// Create stores a new workflow, assigning an id when none is given.
func (s *WorkflowService) Create(wf *models.Workflow) (*models.Workflow, error) {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if wf.Name == "" {
		wf.Name = "Untitled Workflow"
	}
	if wf.Nodes == nil {
		wf.Nodes = []models.Node{}
	}
	if wf.Edges == nil {
		wf.Edges = []models.Edge{}
	}

	if errs := s.Validate(wf); len(errs) > 0 {
		return nil, fmt.Errorf("invalid workflow: %s", errs[0].Message)
	}

	if err := s.db.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	log.Printf("📦 [WORKFLOW] Created workflow %s ('%s') with %d node(s)", wf.ID, wf.Name, len(wf.Nodes))
	return wf, nil
}

// Get loads a workflow by id.
func (s *WorkflowService) Get(id string) (*models.Workflow, error) {
	wf, err := s.db.GetWorkflow(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkflowNotFound
	}
	return wf, err
}

// List returns all stored workflows.
func (s *WorkflowService) List() ([]*models.Workflow, error) {
	return s.db.ListWorkflows()
}

// Update replaces a workflow definition wholesale.
func (s *WorkflowService) Update(id string, wf *models.Workflow) (*models.Workflow, error) {
	existing, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	wf.ID = id
	wf.CreatedAt = existing.CreatedAt
	if errs := s.Validate(wf); len(errs) > 0 {
		return nil, fmt.Errorf("invalid workflow: %s", errs[0].Message)
	}
	if err := s.db.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// Delete removes a workflow and its schedule.
func (s *WorkflowService) Delete(id string) error {
	err := s.db.DeleteWorkflow(id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrWorkflowNotFound
	}
	return err
}

// Validate runs structural validation without the cycle check (cycles are
// caught at execution time where loop bodies are known).
func (s *WorkflowService) Validate(wf *models.Workflow) []models.ValidationError {
	g := graph.New(wf.Nodes, wf.Edges)
	return g.Validate(s.registry.Has)
}

// AddNode appends a node to a workflow. Unknown node types are rejected.
func (s *WorkflowService) AddNode(workflowID string, node models.Node) (*models.Workflow, error) {
	wf, err := s.Get(workflowID)
	if err != nil {
		return nil, err
	}

	if !s.registry.Has(node.Type) {
		return nil, fmt.Errorf("unknown node type '%s'", node.Type)
	}
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	for _, existing := range wf.Nodes {
		if existing.ID == node.ID {
			return nil, fmt.Errorf("node id '%s' already exists", node.ID)
		}
	}

	wf.Nodes = append(wf.Nodes, node)
	if err := s.db.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// UpdateNode replaces a node's definition in place.
func (s *WorkflowService) UpdateNode(workflowID, nodeID string, node models.Node) (*models.Workflow, error) {
	wf, err := s.Get(workflowID)
	if err != nil {
		return nil, err
	}
	if !s.registry.Has(node.Type) {
		return nil, fmt.Errorf("unknown node type '%s'", node.Type)
	}

	node.ID = nodeID
	found := false
	for i := range wf.Nodes {
		if wf.Nodes[i].ID == nodeID {
			wf.Nodes[i] = node
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("node '%s' not found in workflow %s", nodeID, workflowID)
	}

	if err := s.db.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// DeleteNode removes a node and every edge touching it.
func (s *WorkflowService) DeleteNode(workflowID, nodeID string) (*models.Workflow, error) {
	wf, err := s.Get(workflowID)
	if err != nil {
		return nil, err
	}

	nodes := wf.Nodes[:0]
	found := false
	for _, n := range wf.Nodes {
		if n.ID == nodeID {
			found = true
			continue
		}
		nodes = append(nodes, n)
	}
	if !found {
		return nil, fmt.Errorf("node '%s' not found in workflow %s", nodeID, workflowID)
	}
	wf.Nodes = nodes

	edges := wf.Edges[:0]
	removed := 0
	for _, e := range wf.Edges {
		if e.Source == nodeID || e.Target == nodeID {
			removed++
			continue
		}
		edges = append(edges, e)
	}
	wf.Edges = edges

	if err := s.db.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	log.Printf("🗑️ [WORKFLOW] Deleted node %s from %s (cascaded %d edge(s))", nodeID, workflowID, removed)
	return wf, nil
}

// AddEdge connects two existing nodes.
func (s *WorkflowService) AddEdge(workflowID string, edge models.Edge) (*models.Workflow, error) {
	wf, err := s.Get(workflowID)
	if err != nil {
		return nil, err
	}

	if edge.ID == "" {
		edge.ID = uuid.New().String()
	}
	g := graph.New(wf.Nodes, wf.Edges)
	if _, ok := g.Node(edge.Source); !ok {
		return nil, fmt.Errorf("edge source node '%s' not found", edge.Source)
	}
	if _, ok := g.Node(edge.Target); !ok {
		return nil, fmt.Errorf("edge target node '%s' not found", edge.Target)
	}

	wf.Edges = append(wf.Edges, edge)
	if err := s.db.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// DeleteEdge removes an edge by id.
func (s *WorkflowService) DeleteEdge(workflowID, edgeID string) (*models.Workflow, error) {
	wf, err := s.Get(workflowID)
	if err != nil {
		return nil, err
	}

	edges := wf.Edges[:0]
	found := false
	for _, e := range wf.Edges {
		if e.ID == edgeID {
			found = true
			continue
		}
		edges = append(edges, e)
	}
	if !found {
		return nil, fmt.Errorf("edge '%s' not found in workflow %s", edgeID, workflowID)
	}
	wf.Edges = edges

	if err := s.db.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	return wf, nil
}
