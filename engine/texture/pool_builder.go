package texture

// PoolBuilderOption is a functional option applied to a pool during construction via NewPool.
type PoolBuilderOption func(*pool)

// WithMipLevels sets the mip level count of every texture the pool allocates. Values below 1 are ignored.
//
// Parameters:
//   - levels: the mip level count
//
// Returns:
//   - PoolBuilderOption: a function that applies the mip level option to a pool
func WithMipLevels(levels int) PoolBuilderOption {
	return func(p *pool) {
		if levels >= 1 {
			p.mipLevels = levels
		}
	}
}
