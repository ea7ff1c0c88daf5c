package reconcile

// ContextKind is the kind of surface currently in front of the lists.
type ContextKind int

// UI contexts. Only ContextNone lets list rendering through.
const (
	ContextNone ContextKind = iota
	ContextDetail
	ContextModal
	ContextForm
)

func (k ContextKind) String() string {
	switch k {
	case ContextDetail:
		return "detail"
	case ContextModal:
		return "modal"
	case ContextForm:
		return "form"
	}
	return "none"
}

// UIContext tells the engine what the window is showing. Reference is only
// set for ContextDetail.
type UIContext struct {
	Kind      ContextKind
	Reference string
}

// OpenDetail sets the detail context for a CAD.
func (e *Engine) OpenDetail(reference string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ui = UIContext{Kind: ContextDetail, Reference: reference}
	if cad, ok := e.view.Snapshot.FindCAD(reference); ok {
		e.renderer.RenderDetail(cad, assignedUnits(e.view, cad))
	}
}

// OpenModal marks a non-detail modal as open.
func (e *Engine) OpenModal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ui = UIContext{Kind: ContextModal}
}

// OpenForm marks a create or edit form as open.
func (e *Engine) OpenForm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ui = UIContext{Kind: ContextForm}
}

// CloseContext returns to the lists, rendering them if state moved on while
// they were hidden.
func (e *Engine) CloseContext() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ui = UIContext{}
	if e.view.Version > 0 && e.view.Fingerprint != e.listed {
		e.renderLists()
	}
}

// Context returns the current UI context.
func (e *Engine) Context() UIContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ui
}
