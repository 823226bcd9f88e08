// Package indexing implements the coordinate-space layer used to build
// virtual views of chunked arrays. A Transform maps points in an input
// domain (the view's coordinate space) to points in an output space
// (the stored array's coordinate space) through one output map per
// output dimension. Output maps come in three kinds:
//
//   - affine: output = offset + stride * input[dim]
//   - constant: output is a fixed coordinate, the dimension was
//     eliminated by integer indexing
//   - index array: output = array[input[dim]], used for gather-style
//     indexing and boolean masks
//
// Transforms compose by function composition and composition is
// associative: applying a sequence of indexing operations one at a
// time produces the same transform as composing any grouping of the
// same operations. No data is touched by anything in this package;
// a Transform is a pure description that drivers evaluate at I/O time.
package indexing
