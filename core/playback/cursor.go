package playback

// LoopResetThreshold 低于该位置（秒）的回退视为循环或跳回开头
const LoopResetThreshold = 0.1

// FireFunc 接收一次激活脉冲：kick 的下标和时间戳
type FireFunc func(index int, timestamp float64)

// Cursor 随播放进度扫描 Timeline，每轮播放中每个 kick 只触发一次
// 一个 Cursor 只属于一首曲目，切歌需要新建。非并发安全
type Cursor struct {
	timeline *Timeline
	index    int
	last     float64
}

// NewCursor 创建指向第一个 kick 之前的游标
func NewCursor(tl *Timeline) *Cursor {
	return &Cursor{timeline: tl}
}

// TrackID 游标所属曲目
func (c *Cursor) TrackID() int64 {
	if c.timeline == nil {
		return 0
	}
	return c.timeline.TrackID()
}

// Index 本轮已触发的 kick 数
func (c *Cursor) Index() int { return c.index }

// Advance 按时间顺序触发所有时间戳 <= pos 且尚未触发的 kick，返回触发数量
// 位置低于 LoopResetThreshold 且落在上一次采样之后方时，重新开始一轮，不触发任何 kick
func (c *Cursor) Advance(pos float64, fire FireFunc) int {
	n := c.timeline.Len()
	if n == 0 {
		c.last = pos
		return 0
	}

	if pos < LoopResetThreshold && c.index > 0 && pos < c.last {
		c.index = 0
		c.last = pos
		return 0
	}
	c.last = pos

	fired := 0
	for c.index < n && c.timeline.At(c.index) <= pos {
		if fire != nil {
			fire(c.index, c.timeline.At(c.index))
		}
		c.index++
		fired++
	}
	return fired
}

// SeekTo 把 pos 及之前的 kick 视为已触发，不产生脉冲
func (c *Cursor) SeekTo(pos float64) {
	if c.timeline.Len() == 0 {
		c.last = pos
		return
	}
	c.index = c.timeline.countAtOrBefore(pos)
	c.last = pos
}

// Reset 从第一个 kick 重新开始
func (c *Cursor) Reset() {
	c.index = 0
	c.last = 0
}
