// Package nn implements neural-network layer components. A component is
// one interchangeable layer inside a larger network: it propagates
// activations forward, propagates derivatives backward, and persists
// itself in an ordered token stream.
//
// Activation matrices have one row per batch element and one column per
// flattened tensor element, densely packed with no row padding. All heavy
// computation is delegated synchronously to a dnn.Context; a component
// instance is single-threaded and callers must serialize access to a
// shared context.
package nn

import (
	"gonum.org/v1/gonum/mat"

	"github.com/cantor-asr/cantor/internal/serialization"
)

// Component is the contract every layer satisfies.
//
// Propagate and Backprop treat shape mismatches and accelerator failures
// as unrecoverable and panic: continuing past either would silently
// corrupt numerical results. Read and Write return errors, since
// malformed model files are an operator problem, not a programming one.
type Component interface {
	// Type returns the concrete component type tag. Two components may
	// exchange parameters only when their tags match.
	Type() string

	// Info returns a one-line human-readable description of the
	// component's configuration and parameter statistics.
	Info() string

	// InputDim returns the number of columns Propagate expects per row.
	InputDim() int

	// OutputDim returns the number of columns Propagate writes per row.
	OutputDim() int

	// Propagate computes the forward pass, overwriting out.
	Propagate(in, out *mat.Dense)

	// Backprop computes the backward pass. outDeriv holds the objective
	// derivative with respect to this component's output. If inDeriv is
	// non-nil the derivative with respect to the input is accumulated
	// into it. If toUpdate is non-nil its parameters receive the
	// learning-rate-scaled parameter gradient; it must be the same
	// concrete type as the receiver. debug labels the call in panics.
	Backprop(debug string, in, outDeriv *mat.Dense, toUpdate Component, inDeriv *mat.Dense)

	// Write serializes the component to an ordered token stream.
	Write(w *serialization.Writer) error

	// Read restores the component from a stream produced by Write.
	Read(r *serialization.Reader) error

	// Copy returns a deep copy: parameters and descriptors duplicated,
	// workspace freshly allocated, nothing aliased.
	Copy() Component

	// Destroy releases device resources. The component must not be used
	// afterwards.
	Destroy()
}

// Updatable is a component with learned parameters.
type Updatable interface {
	Component

	// LearningRate returns the update scale applied by Backprop's
	// parameter-gradient path.
	LearningRate() float64

	// SetLearningRate sets the update scale.
	SetLearningRate(lr float64)

	// IsGradient reports whether this instance is a gradient accumulator
	// rather than live model weights.
	IsGradient() bool

	// NumParameters returns the total learned parameter count.
	NumParameters() int

	// Vectorize flattens all parameters into dst, whose length must
	// equal NumParameters.
	Vectorize(dst *mat.VecDense)

	// UnVectorize restores all parameters from src, whose length must
	// equal NumParameters.
	UnVectorize(src *mat.VecDense)

	// Scale multiplies all parameters by f in place.
	Scale(f float64)

	// Add accumulates alpha times the parameters of other, which must be
	// the same concrete type.
	Add(alpha float64, other Component)

	// DotProduct returns the inner product of the two components'
	// parameter vectors.
	DotProduct(other Updatable) float64

	// PerturbParams adds independent Gaussian noise with the given
	// standard deviation to all parameters.
	PerturbParams(stddev float64)

	// SetZero zeroes all parameters. When asGradient is true the
	// component additionally becomes a gradient accumulator with its
	// learning rate forced to 1.
	SetZero(asGradient bool)
}
