package core

import "sync"

// Step is a screen of the import wizard.
type Step string

const (
	StepUpload    Step = "upload"
	StepPreview   Step = "preview"
	StepMapping   Step = "mapping"
	StepImporting Step = "importing"
	StepResults   Step = "results"
)

// transitions lists every allowed move. Anything absent is rejected.
var transitions = map[Step][]Step{
	StepUpload:    {StepPreview},
	StepPreview:   {StepMapping, StepUpload},
	StepMapping:   {StepImporting, StepPreview},
	StepImporting: {StepResults},
	StepResults:   {StepUpload},
}

// backOf is where Back goes from each step.
var backOf = map[Step]Step{
	StepPreview: StepUpload,
	StepMapping: StepPreview,
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Step) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Wizard is the state of one import session's workflow. The importing step
// can only be entered through StartImport, which demands a frozen mapping.
type Wizard struct {
	mu      sync.Mutex
	step    Step
	mapping *ColumnMapping
}

// NewWizard starts at the upload step.
func NewWizard() *Wizard {
	return &Wizard{step: StepUpload}
}

// Step returns the current step.
func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Mapping returns the mapping frozen by StartImport, or nil.
func (w *Wizard) Mapping() *ColumnMapping {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mapping == nil {
		return nil
	}
	m := *w.mapping
	return &m
}

// Advance moves to a step other than importing.
func (w *Wizard) Advance(to Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if to == StepImporting {
		return &TransitionError{From: w.step, To: to}
	}
	return w.moveLocked(to)
}

// StartImport freezes mapper and enters the importing step. An invalid
// mapping returns *MappingError and leaves the step unchanged.
func (w *Wizard) StartImport(mapper *ColumnMapper) (ColumnMapping, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !CanTransition(w.step, StepImporting) {
		return ColumnMapping{}, &TransitionError{From: w.step, To: StepImporting}
	}
	frozen, err := mapper.Freeze()
	if err != nil {
		return ColumnMapping{}, err
	}
	w.mapping = &frozen
	w.step = StepImporting
	return frozen, nil
}

// Back returns to the previous step. Importing and results have no back
// step.
func (w *Wizard) Back() (Step, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	to, ok := backOf[w.step]
	if !ok {
		return w.step, &TransitionError{From: w.step, To: w.step}
	}
	if err := w.moveLocked(to); err != nil {
		return w.step, err
	}
	return to, nil
}

// Reset abandons the workflow and returns to upload from any step except
// importing.
func (w *Wizard) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step == StepImporting {
		return &TransitionError{From: w.step, To: StepUpload}
	}
	w.step = StepUpload
	w.mapping = nil
	return nil
}

func (w *Wizard) moveLocked(to Step) error {
	if !CanTransition(w.step, to) {
		return &TransitionError{From: w.step, To: to}
	}
	if to == StepUpload {
		w.mapping = nil
	}
	w.step = to
	return nil
}
