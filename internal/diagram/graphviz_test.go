package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodegraph/pkg/schema"
)

func TestRenderImagePNG(t *testing.T) {
	model, err := Build("Sync users", linearGraph(t), nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model, FormatPNG)
	require.NoError(t, err)
	require.True(t, len(png) > 8, "PNG should be larger than header")

	// PNG magic bytes: 0x89 P N G.
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, "PNG", string(png[1:4]))
}

func TestRenderImageSVG(t *testing.T) {
	model, err := Build("", branchingGraph(t), &Overlay{
		Trace:      []schema.TraceEntry{{NodeID: "start"}, {NodeID: "check"}},
		FailedNode: "check",
	})
	require.NoError(t, err)

	svg, err := RenderImage(context.Background(), model, FormatSVG)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
	assert.Contains(t, string(svg), "#8b1a1a")
}

func TestRenderImageDOT(t *testing.T) {
	model, err := Build("", fanOutGraph(t), nil)
	require.NoError(t, err)

	dot, err := RenderImage(context.Background(), model, FormatDOT)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "digraph")
	assert.Contains(t, string(dot), "cylinder")
}

func TestRenderImageUnknownFormat(t *testing.T) {
	model, err := Build("", linearGraph(t), nil)
	require.NoError(t, err)

	_, err = RenderImage(context.Background(), model, "bmp")
	assert.Error(t, err)
}
