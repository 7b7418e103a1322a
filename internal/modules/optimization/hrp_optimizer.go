package optimization

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/quantfolio/pkg/formulas"
)

// Linkage selects how the distance between two clusters is measured.
type Linkage string

const (
	LinkageSingle   Linkage = "single"
	LinkageComplete Linkage = "complete"
	LinkageAverage  Linkage = "average"
)

// Bisection selects how recursive bisection splits a cluster.
type Bisection string

const (
	// BisectionTree splits each cluster into its two dendrogram children.
	BisectionTree Bisection = "tree"
	// BisectionMidpoint splits the quasi-diagonal order in half at every level.
	BisectionMidpoint Bisection = "midpoint"
)

type HRPOptions struct {
	Linkage   Linkage   `json:"linkage"`
	Bisection Bisection `json:"bisection"`
}

func DefaultHRPOptions() HRPOptions {
	return HRPOptions{Linkage: LinkageSingle, Bisection: BisectionTree}
}

func (o HRPOptions) Validate() error {
	switch o.Linkage {
	case LinkageSingle, LinkageComplete, LinkageAverage:
	default:
		return fmt.Errorf("%w: unknown linkage %q", ErrInvalidOptions, o.Linkage)
	}
	switch o.Bisection {
	case BisectionTree, BisectionMidpoint:
	default:
		return fmt.Errorf("%w: unknown bisection %q", ErrInvalidOptions, o.Bisection)
	}
	return nil
}

// ClusterNode is a node of the HRP dendrogram. Leaves carry a single asset and no name.
type ClusterNode struct {
	Name     string
	Assets   []string
	Distance float64
	Left     *ClusterNode
	Right    *ClusterNode
}

// IsLeaf reports whether the node holds a single asset.
func (n *ClusterNode) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// ClusterTree is the binary dendrogram built for one HRP request.
type ClusterTree struct {
	Root *ClusterNode
}

// Leaves returns the leaf nodes in quasi-diagonal order.
func (t *ClusterTree) Leaves() []*ClusterNode {
	if t == nil || t.Root == nil {
		return nil
	}
	var out []*ClusterNode
	var walk func(n *ClusterNode)
	walk = func(n *ClusterNode) {
		if n.IsLeaf() {
			out = append(out, n)
			return
		}
		walk(n.Left)
		walk(n.Right)
	}
	walk(t.Root)
	return out
}

// HRPOptimizer performs Hierarchical Risk Parity portfolio optimization.
type HRPOptimizer struct{}

// NewHRPOptimizer creates a new HRP optimizer.
func NewHRPOptimizer() *HRPOptimizer {
	return &HRPOptimizer{}
}

type hrpClusterNode struct {
	left     *hrpClusterNode
	right    *hrpClusterNode
	leaves   []int
	minLeaf  int
	distance float64
	merge    int
	name     string
}

// Optimize runs the full HRP pipeline:
// 1) Correlation from covariance
// 2) Distance: d_ij = sqrt(0.5 * (1 - ρ_ij))
// 3) Hierarchical clustering (configurable linkage, deterministic tie-break)
// 4) Quasi-diagonalization (leaf order from dendrogram)
// 5) Recursive bisection allocation (cluster variance via IVP)
func (hrp *HRPOptimizer) Optimize(est Estimates, constraints Constraints, opts HRPOptions) (*HierarchicalRiskParity, error) {
	if err := ValidateEstimates(est); err != nil {
		return nil, err
	}
	if err := constraints.Validate(); err != nil {
		return nil, err
	}
	if !constraints.Feasible(est.Assets) {
		return nil, ErrInfeasibleConstraints
	}

	assets := est.Assets
	n := len(assets)
	cov := est.Covariance

	if opts.Linkage == "" {
		opts.Linkage = LinkageSingle
	}
	if opts.Bisection == "" {
		opts.Bisection = BisectionTree
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var root *hrpClusterNode
	if n == 1 {
		root = &hrpClusterNode{leaves: []int{0}}
	} else {
		corrMatrix, err := formulas.CorrelationMatrixFromCovariance(cov)
		if err != nil {
			return nil, &SingularMatrixError{Operation: "hrp correlation", Detail: err.Error()}
		}
		root = hrp.buildDendrogram(formulas.CorrelationToDistance(corrMatrix), opts.Linkage)
	}

	order := hrp.quasiDiagonalOrder(root)
	if len(order) != n {
		return nil, fmt.Errorf("invalid HRP order length %d", len(order))
	}

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0
	}
	if opts.Bisection == BisectionMidpoint {
		hrp.midpointBisectionAllocate(weights, cov, order)
	} else {
		hrp.treeBisectionAllocate(weights, cov, root)
	}

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 || !formulas.IsFinite(sum) {
		return nil, fmt.Errorf("invalid HRP weight sum: %v", sum)
	}
	for i := range weights {
		weights[i] /= sum
	}
	weights = constraints.applyConstraints(assets, weights)

	ret, variance := portfolioStats(weights, est.ReturnsVector(), cov)

	orderedAssets := make([]string, n)
	for k, idx := range order {
		orderedAssets[k] = assets[idx]
	}

	return &HierarchicalRiskParity{
		Timestamp:      time.Now(),
		Weights:        weightsFromVector(assets, weights),
		Clusters:       hrp.clusterList(root, assets),
		Order:          orderedAssets,
		Tree:           &ClusterTree{Root: hrp.exportTree(root, assets)},
		TotalRisk:      math.Sqrt(variance),
		ExpectedReturn: ret,
	}, nil
}

func (hrp *HRPOptimizer) buildDendrogram(dist [][]float64, linkage Linkage) *hrpClusterNode {
	n := len(dist)
	clusters := make([]*hrpClusterNode, 0, n)
	for i := 0; i < n; i++ {
		clusters = append(clusters, &hrpClusterNode{
			leaves:  []int{i},
			minLeaf: i,
		})
	}

	// Agglomerative clustering with deterministic tie-break.
	merges := 0
	for len(clusters) > 1 {
		bestI := 0
		bestJ := 1
		bestD := hrp.clusterDistance(dist, clusters[0], clusters[1], linkage)

		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := hrp.clusterDistance(dist, clusters[i], clusters[j], linkage)
				if d < bestD || (d == bestD && hrp.clusterPairLess(clusters[i], clusters[j], clusters[bestI], clusters[bestJ])) {
					bestD = d
					bestI = i
					bestJ = j
				}
			}
		}

		left := clusters[bestI]
		right := clusters[bestJ]
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}

		mergedLeaves := make([]int, 0, len(left.leaves)+len(right.leaves))
		mergedLeaves = append(mergedLeaves, left.leaves...)
		mergedLeaves = append(mergedLeaves, right.leaves...)

		merges++
		merged := &hrpClusterNode{
			left:     left,
			right:    right,
			leaves:   mergedLeaves,
			minLeaf:  left.minLeaf,
			distance: bestD,
			merge:    merges,
			name:     fmt.Sprintf("cluster-%d", merges),
		}

		next := make([]*hrpClusterNode, 0, len(clusters)-1)
		for k := 0; k < len(clusters); k++ {
			if k == bestI || k == bestJ {
				continue
			}
			next = append(next, clusters[k])
		}
		next = append(next, merged)
		clusters = next
	}

	return clusters[0]
}

func (hrp *HRPOptimizer) clusterPairLess(a1, b1, a2, b2 *hrpClusterNode) bool {
	// Tie-break by (minLeaf, then second minLeaf) of the pair.
	x1, y1 := a1.minLeaf, b1.minLeaf
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.minLeaf, b2.minLeaf
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

func (hrp *HRPOptimizer) clusterDistance(dist [][]float64, a, b *hrpClusterNode, linkage Linkage) float64 {
	switch linkage {
	case LinkageComplete:
		best := math.Inf(-1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				best = math.Max(best, dist[i][j])
			}
		}
		return best
	case LinkageAverage:
		sum := 0.0
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				sum += dist[i][j]
			}
		}
		return sum / float64(len(a.leaves)*len(b.leaves))
	default:
		best := math.Inf(1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				best = math.Min(best, dist[i][j])
			}
		}
		return best
	}
}

func (hrp *HRPOptimizer) quasiDiagonalOrder(node *hrpClusterNode) []int {
	if node == nil {
		return nil
	}
	if node.left == nil && node.right == nil {
		return []int{node.leaves[0]}
	}
	out := hrp.quasiDiagonalOrder(node.left)
	return append(out, hrp.quasiDiagonalOrder(node.right)...)
}

// treeBisectionAllocate splits every internal node into its two children, so the
// contiguous halves always coincide with clusters.
func (hrp *HRPOptimizer) treeBisectionAllocate(weights []float64, cov [][]float64, node *hrpClusterNode) {
	if node == nil || node.left == nil || node.right == nil {
		return
	}
	left := hrp.quasiDiagonalOrder(node.left)
	right := hrp.quasiDiagonalOrder(node.right)
	hrp.splitBudget(weights, cov, left, right)
	hrp.treeBisectionAllocate(weights, cov, node.left)
	hrp.treeBisectionAllocate(weights, cov, node.right)
}

func (hrp *HRPOptimizer) midpointBisectionAllocate(weights []float64, cov [][]float64, order []int) {
	if len(order) <= 1 {
		return
	}
	split := len(order) / 2
	left := order[:split]
	right := order[split:]
	hrp.splitBudget(weights, cov, left, right)
	hrp.midpointBisectionAllocate(weights, cov, left)
	hrp.midpointBisectionAllocate(weights, cov, right)
}

// splitBudget scales the two halves inversely to their cluster variance.
func (hrp *HRPOptimizer) splitBudget(weights []float64, cov [][]float64, left, right []int) {
	vLeft := hrp.clusterVariance(cov, left)
	vRight := hrp.clusterVariance(cov, right)

	alpha := 0.5
	if vLeft+vRight > 0 {
		alpha = 1.0 - (vLeft / (vLeft + vRight))
	}
	alpha = math.Max(0.0, math.Min(1.0, alpha))

	for _, idx := range left {
		weights[idx] *= alpha
	}
	for _, idx := range right {
		weights[idx] *= 1.0 - alpha
	}
}

func (hrp *HRPOptimizer) clusterVariance(cov [][]float64, idxs []int) float64 {
	if len(idxs) == 0 {
		return 0.0
	}
	if len(idxs) == 1 {
		i := idxs[0]
		return math.Max(cov[i][i], 0.0)
	}

	// Inverse-variance portfolio (IVP) within the cluster.
	variances := make([]float64, len(idxs))
	for k, i := range idxs {
		variances[k] = cov[i][i]
	}
	ivp := formulas.InverseVarianceWeights(variances)

	variance := 0.0
	for a, i := range idxs {
		for b, j := range idxs {
			variance += ivp[a] * cov[i][j] * ivp[b]
		}
	}
	return math.Max(variance, 0.0)
}

// clusterList flattens the internal merges in merge order.
func (hrp *HRPOptimizer) clusterList(root *hrpClusterNode, assets AssetUniverse) []Cluster {
	var internal []*hrpClusterNode
	var walk func(n *hrpClusterNode)
	walk = func(n *hrpClusterNode) {
		if n == nil || n.left == nil {
			return
		}
		walk(n.left)
		walk(n.right)
		internal = append(internal, n)
	}
	walk(root)

	clusters := make([]Cluster, len(internal))
	for _, n := range internal {
		clusters[n.merge-1] = Cluster{
			Name:     n.name,
			Assets:   hrp.leafAssets(n, assets),
			Distance: n.distance,
			Left:     hrp.nodeLabel(n.left, assets),
			Right:    hrp.nodeLabel(n.right, assets),
		}
	}
	return clusters
}

func (hrp *HRPOptimizer) exportTree(n *hrpClusterNode, assets AssetUniverse) *ClusterNode {
	if n == nil {
		return nil
	}
	return &ClusterNode{
		Name:     n.name,
		Assets:   hrp.leafAssets(n, assets),
		Distance: n.distance,
		Left:     hrp.exportTree(n.left, assets),
		Right:    hrp.exportTree(n.right, assets),
	}
}

func (hrp *HRPOptimizer) leafAssets(n *hrpClusterNode, assets AssetUniverse) []string {
	order := hrp.quasiDiagonalOrder(n)
	out := make([]string, len(order))
	for k, idx := range order {
		out[k] = assets[idx]
	}
	return out
}

func (hrp *HRPOptimizer) nodeLabel(n *hrpClusterNode, assets AssetUniverse) string {
	if n.left == nil {
		return assets[n.leaves[0]]
	}
	return n.name
}
