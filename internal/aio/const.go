package aio

// SubmitBatchSize bounds the per-backend staged-submission array
// (PGAIO_SUBMIT_BATCH_SIZE in the source). It is a hard, fixed capacity:
// staging and submission must never allocate, so there is no growing this
// at runtime.
const SubmitBatchSize = 64

// MaxIOVecsPerHandle bounds how many scatter/gather buffers a single
// handle can carry, i.e. the largest physical transfer the engine will
// coalesce into one I/O. The read stream's buffer_io_size config is
// clamped to this.
const MaxIOVecsPerHandle = 128
