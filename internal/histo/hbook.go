package histo

import (
	"go-hep.org/x/hep/hbook"
)

// FromH1D converts a go-hep 1D histogram with uniform binning.
func FromH1D(name string, h *hbook.H1D) *H1 {
	out := NewH1(name, h.Len(), h.XMin(), h.XMax())
	for _, b := range h.Binning.Bins {
		i := out.X.FindBin(b.XMid())
		if i < 0 || i >= out.X.N {
			continue
		}
		out.content[i] += b.SumW()
		out.sumw2[i] += b.SumW2()
		out.entries += float64(b.Entries())
	}
	return out
}

// FromH2D converts a go-hep 2D histogram with uniform binning.
func FromH2D(name string, h *hbook.H2D) *H2 {
	out := NewH2(name,
		h.Binning.Nx, h.XMin(), h.XMax(),
		h.Binning.Ny, h.YMin(), h.YMax())
	for _, b := range h.Binning.Bins {
		ix, iy := out.X.FindBin(b.XMid()), out.Y.FindBin(b.YMid())
		if ix < 0 || ix >= out.X.N || iy < 0 || iy >= out.Y.N {
			continue
		}
		k := out.index(ix, iy)
		out.content[k] += b.SumW()
		out.sumw2[k] += b.SumW2()
		out.entries[k] += float64(b.Entries())
	}
	return out
}

// H1D returns a go-hep copy of h for plotting. Each bin is filled once at its
// centre with the bin content as weight.
func (h *H1) H1D() *hbook.H1D {
	out := hbook.NewH1D(h.X.N, h.X.Min, h.X.Max)
	for i, c := range h.content {
		if c == 0 {
			continue
		}
		out.Fill(h.X.Center(i), c)
	}
	out.Annotation()["name"] = h.Name
	return out
}
