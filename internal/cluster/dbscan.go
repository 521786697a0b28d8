package cluster

// Partition is the output of a clustering run: a set of clusters (each a
// list of input indices, every cluster at least minPoints large) plus the
// residual noise indices. Every input index appears in exactly one cluster
// or in Noise. Callers treat each noise index as its own singleton cluster.
type Partition struct {
	Clusters [][]int
	Noise    []int
}

const (
	labelUnvisited = 0
	labelNoise     = -1
)

// DBSCAN clusters the given vectors by cosine distance. epsilon is the
// maximum neighbor distance, minPoints the minimum cluster size. The scan
// is deterministic for a fixed input order — points are visited in index
// order and neighbor expansion appends in index order.
//
// Distance evaluation is O(n²), fine at the batch sizes the dedup job runs
// on (hundreds to low thousands).
func DBSCAN(vectors [][]float64, epsilon float64, minPoints int) Partition {
	n := len(vectors)
	if n == 0 {
		return Partition{}
	}
	if minPoints < 2 {
		minPoints = 2
	}

	labels := make([]int, n) // 0 unvisited, -1 noise, >0 cluster id
	clusterID := 0

	for i := 0; i < n; i++ {
		if labels[i] != labelUnvisited {
			continue
		}

		neighbors := regionQuery(vectors, i, epsilon)
		if len(neighbors) < minPoints {
			labels[i] = labelNoise
			continue
		}

		clusterID++
		labels[i] = clusterID

		// Expand the cluster from the seed's neighborhood. The queue grows
		// as new core points are found; border points join but do not expand.
		queue := append([]int(nil), neighbors...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == labelNoise {
				labels[j] = clusterID // noise becomes a border point
			}
			if labels[j] != labelUnvisited {
				continue
			}
			labels[j] = clusterID

			jNeighbors := regionQuery(vectors, j, epsilon)
			if len(jNeighbors) >= minPoints {
				queue = append(queue, jNeighbors...)
			}
		}
	}

	part := Partition{}
	if clusterID > 0 {
		part.Clusters = make([][]int, clusterID)
	}
	for i, label := range labels {
		if label == labelNoise {
			part.Noise = append(part.Noise, i)
			continue
		}
		part.Clusters[label-1] = append(part.Clusters[label-1], i)
	}
	return part
}

// regionQuery returns all indices within epsilon of point i, including i
// itself, in index order.
func regionQuery(vectors [][]float64, i int, epsilon float64) []int {
	var neighbors []int
	for j := range vectors {
		if CosineDistance(vectors[i], vectors[j]) <= epsilon {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}
