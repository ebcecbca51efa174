// Package tensor implements the dense float32 tensor algebra used by the speech model.
// Tensors are row-major with an explicit shape; matrix products are delegated to the
// gonum BLAS, everything else (normalisation, activations, views) is implemented here.
package tensor
