package pass

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
)

var (
	// ErrMissingResource is returned when a required field has no texture bound.
	ErrMissingResource = errors.New("pass: missing resource")
	// ErrResourceMismatch is returned when a bound texture does not match its field.
	ErrResourceMismatch = errors.New("pass: resource mismatch")
)

// Direction tells whether a field is read or written by the pass.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Field is one named texture of a pass's render-graph interface.
type Field struct {
	Name        string
	Description string
	Direction   Direction
	Format      texture.Format
	Bind        texture.BindFlags
	// Optional fields may be left unbound.
	Optional bool
}

// Reflection is the ordered list of fields a pass declares.
type Reflection []Field

// Field looks a field up by name.
//
// Parameters:
//   - name: the field name
//
// Returns:
//   - Field: the field
//   - bool: false if the pass declares no such field
func (r Reflection) Field(name string) (Field, bool) {
	for _, f := range r {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Inputs returns the input fields.
func (r Reflection) Inputs() Reflection {
	return r.filter(Input)
}

// Outputs returns the output fields.
func (r Reflection) Outputs() Reflection {
	return r.filter(Output)
}

func (r Reflection) filter(d Direction) Reflection {
	var out Reflection
	for _, f := range r {
		if f.Direction == d {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks a frame's bindings against the declared fields: required fields must be bound,
// and every bound texture must have the field's format, bind flags and the frame's size.
// Names the reflection does not declare are ignored.
//
// Parameters:
//   - data: the frame bindings
//
// Returns:
//   - error: ErrMissingResource or ErrResourceMismatch wrapped with the field name, or nil
func (r Reflection) Validate(data RenderData) error {
	var errs []error
	for _, f := range r {
		tex := data.Get(f.Name)
		if tex == nil {
			if !f.Optional {
				errs = append(errs, fmt.Errorf("%w: %s %s", ErrMissingResource, f.Direction, f.Name))
			}
			continue
		}
		if tex.Format() != f.Format {
			errs = append(errs, fmt.Errorf("%w: %s is %s, want %s", ErrResourceMismatch, f.Name, tex.Format(), f.Format))
		}
		if !tex.Bind().Has(f.Bind) {
			errs = append(errs, fmt.Errorf("%w: %s lacks bind flags %b", ErrResourceMismatch, f.Name, f.Bind))
		}
		if dim := texture.Of(tex).Dim(); dim != data.Dim {
			errs = append(errs, fmt.Errorf("%w: %s is %s, want %s", ErrResourceMismatch, f.Name, dim, data.Dim))
		}
	}
	return errors.Join(errs...)
}

// RenderData is one frame's view of the render graph: the frame size and the textures bound to
// the pass's fields by name.
type RenderData struct {
	Dim      common.Uint2
	Textures map[string]texture.Texture
}

// Get returns the texture bound to name, or nil.
func (d RenderData) Get(name string) texture.Texture {
	if d.Textures == nil {
		return nil
	}
	return d.Textures[name]
}

func input(name, desc string, format texture.Format, optional bool) Field {
	return Field{Name: name, Description: desc, Direction: Input, Format: format, Bind: texture.BindShaderResource, Optional: optional}
}

func output(name, desc string, format texture.Format) Field {
	return Field{Name: name, Description: desc, Direction: Output, Format: format, Bind: device.StorageBind, Optional: true}
}
