package mvmap

import "sync"
import "sync/atomic"


//============================================= MVMap Page Pool


// newMVPagePool
//	Creates a pool that recycles page structs so copy-on-write churn does not hammer
//	the garbage collector under write-heavy load.
func newMVPagePool(maxSize int64) *MVPagePool {
	pool := &MVPagePool{ maxSize: maxSize }

	pool.pagePool = &sync.Pool{
		New: func() interface{} {
			return &MVPage{}
		},
	}

	return pool
}

// getPage
//	Takes a recycled page from the pool, allocating a fresh one when the pool is empty.
func (pool *MVPagePool) getPage() *MVPage {
	page := pool.pagePool.Get().(*MVPage)
	if atomic.LoadInt64(&pool.size) > 0 { atomic.AddInt64(&pool.size, -1) }

	return page
}

// putPage
//	Hands a discarded copy back to the pool once a publish attempt lost its CAS.
//	Beyond the cap the page is dropped and the garbage collector takes care of it.
func (pool *MVPagePool) putPage(page *MVPage) {
	if atomic.LoadInt64(&pool.size) >= pool.maxSize { return }

	page.keys = nil
	page.values = nil
	page.children = nil
	page.pos = 0
	page.memory = 0

	pool.pagePool.Put(page)
	atomic.AddInt64(&pool.size, 1)
}
