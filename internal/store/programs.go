package store

import (
	"fmt"

	"github.com/smash0190/endlesspool/internal/pool"
)

var _ pool.ProgramStore = (*Programs)(nil)

// Programs is the per-user workout program store. Each user keeps
// their own library, seeded from the defaults at account creation.
type Programs struct {
	s *Store
}

// Programs returns the workout program store view.
func (s *Store) Programs() *Programs {
	return &Programs{s: s}
}

// List returns a user's program library. A user who has never saved
// anything gets the default library.
func (p *Programs) List(userID string) ([]pool.Program, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	programs, err := p.load(userID)
	if err != nil {
		return nil, err
	}
	if programs == nil {
		return DefaultPrograms(), nil
	}
	return programs, nil
}

// Save upserts a program by ID. Programs with no ID get one assigned.
func (p *Programs) Save(userID string, prog pool.Program) (pool.Program, error) {
	if prog.Name == "" {
		return pool.Program{}, fmt.Errorf("program name is required")
	}
	if len(prog.Sections) == 0 {
		return pool.Program{}, fmt.Errorf("program %q has no sections", prog.Name)
	}
	if prog.ID == "" {
		prog.ID = newID()
	}

	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	programs, err := p.load(userID)
	if err != nil {
		return pool.Program{}, err
	}
	if programs == nil {
		programs = DefaultPrograms()
	}
	replaced := false
	for i, existing := range programs {
		if existing.ID == prog.ID {
			programs[i] = prog
			replaced = true
			break
		}
	}
	if !replaced {
		programs = append(programs, prog)
	}
	if err := writeJSON(p.s.userFile(userID, "programs.json"), programs); err != nil {
		return pool.Program{}, err
	}
	return prog, nil
}

// Delete removes a program from a user's library.
func (p *Programs) Delete(userID, programID string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	programs, err := p.load(userID)
	if err != nil {
		return err
	}
	kept := programs[:0]
	for _, prog := range programs {
		if prog.ID != programID {
			kept = append(kept, prog)
		}
	}
	if len(kept) == len(programs) {
		return fmt.Errorf("program %s not found", programID)
	}
	return writeJSON(p.s.userFile(userID, "programs.json"), kept)
}

// load reads a user's programs.json; nil means the file does not
// exist yet. MUST be called with s.mu held.
func (p *Programs) load(userID string) ([]pool.Program, error) {
	var programs []pool.Program
	if err := readJSON(p.s.userFile(userID, "programs.json"), &programs); err != nil {
		return nil, err
	}
	return programs, nil
}
