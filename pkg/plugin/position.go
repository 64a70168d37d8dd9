// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import "github.com/go-gl/mathgl/mgl64"

// Position is a point in world space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec returns the position as a vector.
func (p Position) Vec() mgl64.Vec3 {
	return mgl64.Vec3{p.X, p.Y, p.Z}
}

// PositionFromVec converts a vector back into a Position.
func PositionFromVec(v mgl64.Vec3) Position {
	return Position{X: v.X(), Y: v.Y(), Z: v.Z()}
}

// Distance returns the euclidean distance between two positions.
func Distance(a, b Position) float64 {
	return a.Vec().Sub(b.Vec()).Len()
}
